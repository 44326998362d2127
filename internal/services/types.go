package services

import (
	"slices"
	"time"
)

// Role is the primary actor kind. Actors carry raw role tags from the host;
// only tags that parse into a Role are meaningful to the engine.
type Role string

const (
	RoleEmployer      Role = "employer"
	RoleEmployee      Role = "employee"
	RoleAdministrator Role = "administrator"
)

type Capability string

const (
	CapManageEmployees      Capability = "manage_employees"
	CapViewSensitiveReports Capability = "view_sensitive_reports"
	CapGenerateExperiments  Capability = "generate_experiments"
	CapTakeAssessments      Capability = "take_assessments"
	CapViewOwnResults       Capability = "view_own_results"
	CapManageFunnel         Capability = "manage_funnel"
)

// Actor is a registered user acting as employer or employee.
type Actor struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	DisplayName      string    `json:"display_name,omitempty"`
	PassHash         []byte    `json:"-"`
	Roles            []string  `json:"roles"`
	LinkedEmployerID string    `json:"linked_employer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (a *Actor) HasRoleTag(role Role) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, string(role))
}

// Name returns the display name, falling back to the email address.
func (a *Actor) Name() string {
	if a == nil {
		return ""
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}

// QuizDefinition describes one registered assessment and where its results live.
type QuizDefinition struct {
	Slug       string `json:"slug" yaml:"slug"`
	Title      string `json:"title" yaml:"title"`
	ResultsKey string `json:"results_key" yaml:"results_key"`
	Shortcode  string `json:"shortcode,omitempty" yaml:"shortcode,omitempty"`
	PeerReview bool   `json:"peer_review,omitempty" yaml:"peer_review,omitempty"`
}

// QuizRegistry supplies the ordered set of known quizzes.
type QuizRegistry interface {
	ListQuizzes() []QuizDefinition
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}

// Meta keys written by the engine into the per-actor result store.
const (
	CompletionMarkerKey = "mc_assessments_completed_at"
	AnalysisKey         = "mc_ai_analysis"
	StrainLatestKey     = "mc_strain_index_latest"
	PeerSelfKey         = "mc_peer_self_assessment"
)

func findQuiz(reg QuizRegistry, slug string) (QuizDefinition, bool) {
	for _, q := range reg.ListQuizzes() {
		if q.Slug == slug {
			return q, true
		}
	}
	return QuizDefinition{}, false
}
