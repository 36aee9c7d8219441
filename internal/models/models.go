// Package models holds the structured outputs produced by the crew tasks.
// The types carry no behaviour beyond rendering: every value is filled from
// LLM output.
package models

// SkillScore is the score and relevance of one skill for the candidate.
type SkillScore struct {
	SkillName string `json:"skill_name" mapstructure:"skill_name"`
	// Required is false for nice-to-have skills.
	Required bool `json:"required" mapstructure:"required"`
	// MatchLevel is in [0, 1].
	MatchLevel      float64  `json:"match_level" mapstructure:"match_level"`
	YearsExperience *float64 `json:"years_experience,omitempty" mapstructure:"years_experience"`
	// ContextScore is in [0, 1], defaults to DefaultContextScore.
	ContextScore float64 `json:"context_score" mapstructure:"context_score"`
}

// JobMatchScore is the scoring breakdown for how well a candidate matches a job posting.
// All match values are percentages in [0, 100].
type JobMatchScore struct {
	OverallMatch         float64            `json:"overall_match" mapstructure:"overall_match"`
	TechnicalSkillsMatch float64            `json:"technical_skills_match" mapstructure:"technical_skills_match"`
	SoftSkillsMatch      float64            `json:"soft_skills_match" mapstructure:"soft_skills_match"`
	ExperienceMatch      float64            `json:"experience_match" mapstructure:"experience_match"`
	EducationMatch       float64            `json:"education_match" mapstructure:"education_match"`
	IndustryMatch        float64            `json:"industry_match" mapstructure:"industry_match"`
	SkillDetails         []SkillScore       `json:"skill_details" mapstructure:"skill_details"`
	Strengths            []string           `json:"strengths" mapstructure:"strengths"`
	Gaps                 []string           `json:"gaps" mapstructure:"gaps"`
	ScoringFactors       map[string]float64 `json:"scoring_factors" mapstructure:"scoring_factors"`
}

// JobRequirements is everything the job analysis extracts from a posting.
type JobRequirements struct {
	TechnicalSkills             []string          `json:"technical_skills" mapstructure:"technical_skills"`
	SoftSkills                  []string          `json:"soft_skills" mapstructure:"soft_skills"`
	ExperienceRequirements      []string          `json:"experience_requirements" mapstructure:"experience_requirements"`
	KeyResponsibilities         []string          `json:"key_responsibilities" mapstructure:"key_responsibilities"`
	EducationRequirements       []string          `json:"education_requirements" mapstructure:"education_requirements"`
	NiceToHave                  []string          `json:"nice_to_have" mapstructure:"nice_to_have"`
	JobTitle                    string            `json:"job_title" mapstructure:"job_title"`
	Department                  string            `json:"department,omitempty" mapstructure:"department"`
	ReportingStructure          string            `json:"reporting_structure,omitempty" mapstructure:"reporting_structure"`
	JobLevel                    string            `json:"job_level,omitempty" mapstructure:"job_level"`
	LocationRequirements        map[string]string `json:"location_requirements" mapstructure:"location_requirements"`
	WorkSchedule                string            `json:"work_schedule,omitempty" mapstructure:"work_schedule"`
	TravelRequirements          string            `json:"travel_requirements,omitempty" mapstructure:"travel_requirements"`
	Compensation                map[string]string `json:"compensation" mapstructure:"compensation"`
	Benefits                    []string          `json:"benefits" mapstructure:"benefits"`
	ToolsAndTechnologies        []string          `json:"tools_and_technologies" mapstructure:"tools_and_technologies"`
	IndustryKnowledge           []string          `json:"industry_knowledge" mapstructure:"industry_knowledge"`
	CertificationsRequired      []string          `json:"certifications_required" mapstructure:"certifications_required"`
	SecurityClearance           string            `json:"security_clearance,omitempty" mapstructure:"security_clearance"`
	TeamSize                    string            `json:"team_size,omitempty" mapstructure:"team_size"`
	KeyProjects                 []string          `json:"key_projects" mapstructure:"key_projects"`
	CrossFunctionalInteractions []string          `json:"cross_functional_interactions" mapstructure:"cross_functional_interactions"`
	CareerGrowth                []string          `json:"career_growth" mapstructure:"career_growth"`
	TrainingProvided            []string          `json:"training_provided" mapstructure:"training_provided"`
	DiversityInclusion          string            `json:"diversity_inclusion,omitempty" mapstructure:"diversity_inclusion"`
	CompanyValues               []string          `json:"company_values" mapstructure:"company_values"`
	JobURL                      string            `json:"job_url" mapstructure:"job_url"`
	PostingDate                 string            `json:"posting_date,omitempty" mapstructure:"posting_date"`
	ApplicationDeadline         string            `json:"application_deadline,omitempty" mapstructure:"application_deadline"`
	SpecialInstructions         []string          `json:"special_instructions" mapstructure:"special_instructions"`
	MatchScore                  JobMatchScore     `json:"match_score" mapstructure:"match_score"`
	ScoreExplanation            []string          `json:"score_explanation" mapstructure:"score_explanation"`
}

// ContentSuggestion is a single before/after rewrite proposal.
type ContentSuggestion struct {
	Before string `json:"before" mapstructure:"before"`
	After  string `json:"after" mapstructure:"after"`
}

// ResumeOptimization lists the changes proposed for the resume.
type ResumeOptimization struct {
	ContentSuggestions    []ContentSuggestion `json:"content_suggestions" mapstructure:"content_suggestions"`
	SkillsToHighlight     []string            `json:"skills_to_highlight" mapstructure:"skills_to_highlight"`
	AchievementsToAdd     []string            `json:"achievements_to_add" mapstructure:"achievements_to_add"`
	KeywordsForATS        []string            `json:"keywords_for_ats" mapstructure:"keywords_for_ats"`
	FormattingSuggestions []string            `json:"formatting_suggestions" mapstructure:"formatting_suggestions"`
}

// CompanyResearch is the interview-oriented research about the employer.
type CompanyResearch struct {
	RecentDevelopments []string `json:"recent_developments" mapstructure:"recent_developments"`
	CultureAndValues   []string `json:"culture_and_values" mapstructure:"culture_and_values"`
	// MarketPosition groups findings such as competitors or industry standing.
	MarketPosition     map[string][]string `json:"market_position" mapstructure:"market_position"`
	GrowthTrajectory   []string            `json:"growth_trajectory" mapstructure:"growth_trajectory"`
	InterviewQuestions []string            `json:"interview_questions" mapstructure:"interview_questions"`
}

// DefaultContextScore is used when the LLM omits a skill context score.
const DefaultContextScore = 0.5

// DefaultScoringFactors returns the weights applied when the LLM omits them.
func DefaultScoringFactors() map[string]float64 {
	return map[string]float64{
		"technical_skills": 0.35,
		"soft_skills":      0.20,
		"experience":       0.25,
		"education":        0.10,
		"industry":         0.10,
	}
}

// Weighted combines the category matches using the scoring factors. Factors
// are normalised by their sum so partial or unnormalised weights still yield a
// percentage. Unknown factor keys are ignored.
func (s JobMatchScore) Weighted() float64 {
	factors := s.ScoringFactors
	if len(factors) == 0 {
		factors = DefaultScoringFactors()
	}

	values := map[string]float64{
		"technical_skills": s.TechnicalSkillsMatch,
		"soft_skills":      s.SoftSkillsMatch,
		"experience":       s.ExperienceMatch,
		"education":        s.EducationMatch,
		"industry":         s.IndustryMatch,
	}

	var sum, total float64
	for key, weight := range factors {
		value, ok := values[key]
		if !ok || weight <= 0 {
			continue
		}
		sum += weight * value
		total += weight
	}

	if total == 0 {
		return 0
	}
	return sum / total
}
