package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const notAvailable = "N/A"

// ToMarkdown renders the skill score as bold-labelled lines.
func (s SkillScore) ToMarkdown() string {
	var b strings.Builder
	field(&b, "Skill", s.SkillName)
	field(&b, "Required", yesNo(s.Required))
	field(&b, "Match Level", fmt.Sprintf("%.2f", s.MatchLevel))
	field(&b, "Years Experience", years(s.YearsExperience))
	field(&b, "Context Score", fmt.Sprintf("%.2f", s.ContextScore))
	return strings.TrimSpace(b.String())
}

// ToMarkdown renders the score breakdown with strengths, gaps, per-skill
// details and the scoring weights.
func (s JobMatchScore) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("**Job Match Score**\n\n")
	field(&b, "Overall Match", percent(s.OverallMatch))
	field(&b, "Technical Skills Match", percent(s.TechnicalSkillsMatch))
	field(&b, "Soft Skills Match", percent(s.SoftSkillsMatch))
	field(&b, "Experience Match", percent(s.ExperienceMatch))
	field(&b, "Education Match", percent(s.EducationMatch))
	field(&b, "Industry Match", percent(s.IndustryMatch))
	b.WriteString("\n")

	list(&b, "Strengths", s.Strengths)
	list(&b, "Gaps", s.Gaps)
	b.WriteString("\n")

	b.WriteString("**Skill Details:**\n")
	for _, skill := range s.SkillDetails {
		fmt.Fprintf(&b, "- %s: %.2f (Exp: %s, Context: %.2f)\n",
			skill.SkillName, skill.MatchLevel, years(skill.YearsExperience), skill.ContextScore)
	}
	b.WriteString("\n")

	b.WriteString("**Scoring Factors:**\n")
	for _, key := range sortedKeys(s.ScoringFactors) {
		fmt.Fprintf(&b, "- %s: %.2f\n", key, s.ScoringFactors[key])
	}

	return strings.TrimSpace(b.String())
}

// ToMarkdown renders every extracted job attribute, followed by the match score.
func (r JobRequirements) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("**Job Requirements**\n\n")
	field(&b, "Job Title", r.JobTitle)
	field(&b, "Department", orNA(r.Department))
	field(&b, "Job Level", orNA(r.JobLevel))
	field(&b, "Reporting Structure", orNA(r.ReportingStructure))
	field(&b, "Location Requirements", inlineMap(r.LocationRequirements))
	field(&b, "Work Schedule", orNA(r.WorkSchedule))
	field(&b, "Travel Requirements", orNA(r.TravelRequirements))
	field(&b, "Compensation", inlineMap(r.Compensation))
	list(&b, "Benefits", r.Benefits)
	list(&b, "Technical Skills", r.TechnicalSkills)
	list(&b, "Soft Skills", r.SoftSkills)
	list(&b, "Experience Requirements", r.ExperienceRequirements)
	list(&b, "Key Responsibilities", r.KeyResponsibilities)
	list(&b, "Education Requirements", r.EducationRequirements)
	list(&b, "Nice to Have", r.NiceToHave)
	list(&b, "Tools and Technologies", r.ToolsAndTechnologies)
	list(&b, "Industry Knowledge", r.IndustryKnowledge)
	list(&b, "Certifications Required", r.CertificationsRequired)
	field(&b, "Security Clearance", orNA(r.SecurityClearance))
	field(&b, "Team Size", orNA(r.TeamSize))
	list(&b, "Key Projects", r.KeyProjects)
	list(&b, "Cross Functional Interactions", r.CrossFunctionalInteractions)
	list(&b, "Career Growth", r.CareerGrowth)
	list(&b, "Training Provided", r.TrainingProvided)
	field(&b, "Diversity & Inclusion", orNA(r.DiversityInclusion))
	list(&b, "Company Values", r.CompanyValues)
	field(&b, "Job URL", r.JobURL)
	field(&b, "Posting Date", orNA(r.PostingDate))
	field(&b, "Application Deadline", orNA(r.ApplicationDeadline))
	list(&b, "Special Instructions", r.SpecialInstructions)
	b.WriteString("\n")

	b.WriteString("**Match Score:**\n")
	b.WriteString(r.MatchScore.ToMarkdown())
	b.WriteString("\n")
	list(&b, "Score Explanation", r.ScoreExplanation)

	return strings.TrimSpace(b.String())
}

// ToMarkdown renders the optimisation suggestions.
func (o ResumeOptimization) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("**Resume Optimization Suggestions**\n\n")

	b.WriteString("**Content Suggestions:**\n")
	for _, s := range o.ContentSuggestions {
		fmt.Fprintf(&b, "- Before: %s\n  After: %s\n", s.Before, s.After)
	}

	list(&b, "Skills to Highlight", o.SkillsToHighlight)
	list(&b, "Achievements to Add", o.AchievementsToAdd)
	list(&b, "Keywords for ATS", o.KeywordsForATS)
	list(&b, "Formatting Suggestions", o.FormattingSuggestions)

	return strings.TrimSpace(b.String())
}

// ToMarkdown renders the research as sections separated by blank lines.
// Market position groups are rendered in key order.
func (c CompanyResearch) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("**Company Research**\n\n")

	list(&b, "Recent Developments", c.RecentDevelopments)
	b.WriteString("\n")
	list(&b, "Culture and Values", c.CultureAndValues)
	b.WriteString("\n")

	b.WriteString("**Market Position:**\n")
	for _, key := range sortedKeys(c.MarketPosition) {
		fmt.Fprintf(&b, "**%s:**\n", key)
		for _, v := range c.MarketPosition[key] {
			fmt.Fprintf(&b, "  - %s\n", v)
		}
	}
	b.WriteString("\n")

	list(&b, "Growth Trajectory", c.GrowthTrajectory)
	b.WriteString("\n")
	list(&b, "Interview Questions", c.InterviewQuestions)

	return strings.TrimSpace(b.String())
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "**%s:** %s\n", label, value)
}

func list(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "**%s:**\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func years(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return notAvailable
	}
	return v
}

func inlineMap(m map[string]string) string {
	if len(m) == 0 {
		return notAvailable
	}
	parts := make([]string, 0, len(m))
	for _, key := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s: %s", key, m[key]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
