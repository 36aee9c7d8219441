package models

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestSkillScoreToMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		skill SkillScore
		want  string
	}{
		{
			name:  "with experience",
			skill: SkillScore{SkillName: "Go", Required: true, MatchLevel: 0.8, YearsExperience: ptr(3), ContextScore: 0.5},
			want:  "**Skill:** Go\n**Required:** Yes\n**Match Level:** 0.80\n**Years Experience:** 3\n**Context Score:** 0.50",
		},
		{
			name:  "without experience",
			skill: SkillScore{SkillName: "Terraform", MatchLevel: 0.25, ContextScore: 1},
			want:  "**Skill:** Terraform\n**Required:** No\n**Match Level:** 0.25\n**Years Experience:** N/A\n**Context Score:** 1.00",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.skill.ToMarkdown(); got != tt.want {
				t.Fatalf("unexpected markdown:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestJobMatchScoreToMarkdown(t *testing.T) {
	score := JobMatchScore{
		OverallMatch:         80,
		TechnicalSkillsMatch: 90,
		SoftSkillsMatch:      70,
		ExperienceMatch:      60,
		EducationMatch:       50,
		IndustryMatch:        40,
		SkillDetails:         []SkillScore{{SkillName: "Go", MatchLevel: 0.9, ContextScore: 0.5}},
		Strengths:            []string{"Go"},
		Gaps:                 []string{"Rust"},
		ScoringFactors:       map[string]float64{"technical_skills": 0.35, "soft_skills": 0.2},
	}

	want := "**Job Match Score**\n\n" +
		"**Overall Match:** 80.00%\n" +
		"**Technical Skills Match:** 90.00%\n" +
		"**Soft Skills Match:** 70.00%\n" +
		"**Experience Match:** 60.00%\n" +
		"**Education Match:** 50.00%\n" +
		"**Industry Match:** 40.00%\n\n" +
		"**Strengths:**\n- Go\n" +
		"**Gaps:**\n- Rust\n\n" +
		"**Skill Details:**\n- Go: 0.90 (Exp: N/A, Context: 0.50)\n\n" +
		"**Scoring Factors:**\n- soft_skills: 0.20\n- technical_skills: 0.35"

	if got := score.ToMarkdown(); got != want {
		t.Fatalf("unexpected markdown:\n%s\nwant:\n%s", got, want)
	}
}

func TestJobMatchScoreWeighted(t *testing.T) {
	tests := []struct {
		name  string
		score JobMatchScore
		want  float64
	}{
		{
			name: "default factors",
			score: JobMatchScore{
				TechnicalSkillsMatch: 50, SoftSkillsMatch: 50, ExperienceMatch: 50,
				EducationMatch: 50, IndustryMatch: 50,
			},
			want: 50,
		},
		{
			name: "partial factors are normalised",
			score: JobMatchScore{
				TechnicalSkillsMatch: 90, SoftSkillsMatch: 70,
				ScoringFactors: map[string]float64{"technical_skills": 0.35, "soft_skills": 0.2, "unknown": 1},
			},
			want: (0.35*90 + 0.2*70) / 0.55,
		},
		{
			name:  "only unknown factors",
			score: JobMatchScore{TechnicalSkillsMatch: 90, ScoringFactors: map[string]float64{"luck": 1}},
			want:  0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.score.Weighted(); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %.4f, got %.4f", tt.want, got)
			}
		})
	}
}

func TestCompanyResearchToMarkdown(t *testing.T) {
	research := CompanyResearch{
		RecentDevelopments: []string{"IPO"},
		CultureAndValues:   []string{"Ownership"},
		MarketPosition:     map[string][]string{"competitors": {"A", "B"}, "appeal": {"strong brand"}},
		GrowthTrajectory:   []string{"EU expansion"},
		InterviewQuestions: []string{"Why now?"},
	}

	want := "**Company Research**\n\n" +
		"**Recent Developments:**\n- IPO\n\n" +
		"**Culture and Values:**\n- Ownership\n\n" +
		"**Market Position:**\n**appeal:**\n  - strong brand\n**competitors:**\n  - A\n  - B\n\n" +
		"**Growth Trajectory:**\n- EU expansion\n\n" +
		"**Interview Questions:**\n- Why now?"

	if got := research.ToMarkdown(); got != want {
		t.Fatalf("unexpected markdown:\n%s\nwant:\n%s", got, want)
	}
}

func TestResumeOptimizationToMarkdown(t *testing.T) {
	opt := ResumeOptimization{
		ContentSuggestions:    []ContentSuggestion{{Before: "did x", After: "led x"}},
		SkillsToHighlight:     []string{"Go"},
		KeywordsForATS:        []string{"kubernetes"},
		FormattingSuggestions: []string{"one page"},
	}

	want := "**Resume Optimization Suggestions**\n\n" +
		"**Content Suggestions:**\n- Before: did x\n  After: led x\n" +
		"**Skills to Highlight:**\n- Go\n" +
		"**Achievements to Add:**\n" +
		"**Keywords for ATS:**\n- kubernetes\n" +
		"**Formatting Suggestions:**\n- one page"

	if got := opt.ToMarkdown(); got != want {
		t.Fatalf("unexpected markdown:\n%s\nwant:\n%s", got, want)
	}
}

func TestJobRequirementsToMarkdown(t *testing.T) {
	req := JobRequirements{
		JobTitle:             "Data Engineer",
		JobLevel:             "Senior",
		LocationRequirements: map[string]string{"type": "hybrid", "city": "Utrecht"},
		TechnicalSkills:      []string{"Python", "SQL"},
		JobURL:               "https://example.com/job",
		ScoreExplanation:     []string{"strong SQL"},
	}

	got := req.ToMarkdown()

	for _, want := range []string{
		"**Job Requirements**\n\n**Job Title:** Data Engineer\n",
		"**Department:** N/A\n",
		"**Job Level:** Senior\n",
		"**Location Requirements:** city: Utrecht, type: hybrid\n",
		"**Compensation:** N/A\n",
		"**Technical Skills:**\n- Python\n- SQL\n",
		"**Job URL:** https://example.com/job\n",
		"**Match Score:**\n**Job Match Score**",
		"**Score Explanation:**\n- strong SQL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected markdown to contain %q, got:\n%s", want, got)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"job_requirements", "company_research", "resume_optimization"} {
		m, ok := Lookup(name)
		if !ok {
			t.Fatalf("expected model %q to be registered", name)
		}
		schema, err := m.Schema()
		if err != nil {
			t.Fatalf("loading schema for %q: %v", name, err)
		}
		if !strings.Contains(schema, `"$schema"`) {
			t.Fatalf("unexpected schema for %q: %s", name, schema)
		}
	}

	if _, ok := Lookup("weather_report"); ok {
		t.Fatal("unexpected model registered")
	}

	if got := strings.Join(Names(), ","); got != "company_research,job_requirements,resume_optimization" {
		t.Fatalf("unexpected names: %s", got)
	}
}

func TestDecodeAppliesDefaults(t *testing.T) {
	m, _ := Lookup("job_requirements")

	value, err := m.Decode(map[string]any{
		"job_title":    "Data Engineer",
		"department":   nil,
		"compensation": map[string]any{"min": 120000.0, "currency": "EUR"},
		"match_score": map[string]any{
			"overall_match":          75.0,
			"technical_skills_match": 80.0,
			"soft_skills_match":      70.0,
			"experience_match":       65.0,
			"education_match":        100.0,
			"industry_match":         50.0,
			"skill_details": []any{
				map[string]any{"skill_name": "SQL", "required": true, "match_level": 0.9, "years_experience": nil},
			},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	req, ok := value.(*JobRequirements)
	if !ok {
		t.Fatalf("unexpected type %T", value)
	}

	if req.Compensation["min"] != "120000" {
		t.Fatalf("expected weakly typed compensation, got %q", req.Compensation["min"])
	}

	if got := req.MatchScore.SkillDetails[0].ContextScore; got != DefaultContextScore {
		t.Fatalf("expected default context score, got %v", got)
	}

	if req.MatchScore.SkillDetails[0].YearsExperience != nil {
		t.Fatalf("expected nil years of experience")
	}

	if got := req.MatchScore.ScoringFactors["technical_skills"]; got != 0.35 {
		t.Fatalf("expected default scoring factors, got %v", req.MatchScore.ScoringFactors)
	}
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		data    map[string]any
		problem string
	}{
		{
			name:    "missing required field",
			model:   "resume_optimization",
			data:    map[string]any{"content_suggestions": []any{}},
			problem: "skills_to_highlight",
		},
		{
			name:  "match level out of range",
			model: "job_requirements",
			data: map[string]any{"match_score": map[string]any{
				"overall_match": 1.0, "technical_skills_match": 1.0, "soft_skills_match": 1.0,
				"experience_match": 1.0, "education_match": 1.0, "industry_match": 1.0,
				"skill_details": []any{map[string]any{"skill_name": "Go", "required": true, "match_level": 1.5}},
			}},
			problem: "match_level",
		},
		{
			name:    "wrong market position shape",
			model:   "company_research",
			data:    map[string]any{"recent_developments": []any{}, "culture_and_values": []any{}, "market_position": "leader", "growth_trajectory": []any{}, "interview_questions": []any{}},
			problem: "market_position",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := Lookup(tt.model)
			_, err := m.Decode(tt.data)

			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(validationErr.Error(), tt.problem) {
				t.Fatalf("expected problem mentioning %q, got %v", tt.problem, validationErr.Problems)
			}
		})
	}
}
