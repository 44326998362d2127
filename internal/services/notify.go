package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	json "github.com/goccy/go-json"
)

// Analysis is the structured output of the AI analysis collaborator.
type Analysis struct {
	Summary         string    `json:"summary"`
	Strengths       []string  `json:"strengths"`
	RedFlags        []string  `json:"red_flags"`
	Recommendations []string  `json:"recommendations,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type Analyzer interface {
	GenerateAnalysis(ctx context.Context, actorID string, results map[string]json.RawMessage) (*Analysis, error)
}

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// CompletionState follows incomplete -> complete-unhandled -> complete-handled.
// An actor is unhandled while fully complete without a completion marker,
// which is where a failed send leaves them. Delivery is reported separately
// by TriggerOutcome.Notified.
type CompletionState string

const (
	CompletionIncomplete CompletionState = "incomplete"
	CompletionUnhandled  CompletionState = "complete-unhandled"
	CompletionHandled    CompletionState = "complete-handled"
)

// TriggerOutcome reports what one completion check did.
type TriggerOutcome struct {
	State       CompletionState `json:"state"`
	AllComplete bool            `json:"all_complete"`
	Notified    bool            `json:"notified"`
	Recipient   string          `json:"-"`
}

// CheckCompletionAndNotify recomputes completion and, on the first
// transition into fully complete, runs the AI analysis and sends one
// notification. The marker is claimed with a conditional write so
// concurrent calls cannot both fire. If the send fails the claim is released
// so a later call retries; a delivered notification is never repeated.
func (s *FunnelService) CheckCompletionAndNotify(ctx context.Context, actorID string) (*TriggerOutcome, error) {
	done, err := s.AllComplete(actorID)
	if err != nil {
		return nil, err
	}
	if !done {
		completionTriggers.WithLabelValues("incomplete").Inc()
		return &TriggerOutcome{State: CompletionIncomplete}, nil
	}
	stamp := s.now().Format(time.RFC3339)
	claimed, err := s.store.ClaimMeta(actorID, CompletionMarkerKey, []byte(stamp))
	if err != nil {
		return nil, fmt.Errorf("claim completion marker: %w", err)
	}
	if !claimed {
		completionTriggers.WithLabelValues("handled").Inc()
		return &TriggerOutcome{State: CompletionHandled, AllComplete: true}, nil
	}
	completionTriggers.WithLabelValues("claimed").Inc()
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "system", Action: "completion.claim", Target: actorID, Note: stamp})
	s.log.Info("all assessments completed", "actor_id", actorID, "completed_at", stamp)
	defer s.invalidate(ctx, actorID)

	analysis := s.runAnalysis(ctx, actorID)

	actor, err := s.store.GetActor(actorID)
	if err != nil {
		s.log.Warn("completion notification: actor lookup failed", "actor_id", actorID, "error", err)
	}
	to := s.recipientFor(actor)
	out := &TriggerOutcome{State: CompletionHandled, AllComplete: true, Recipient: to}
	if s.sender == nil || to == "" {
		notificationsSent.WithLabelValues("skipped").Inc()
		s.log.Warn("completion notification skipped", "actor_id", actorID, "has_sender", s.sender != nil)
		return out, nil
	}
	subject, body, err := composeCompletionEmail(actor, actorID, stamp, analysis)
	if err != nil {
		s.log.Error("compose completion notification", "actor_id", actorID, "error", err)
		s.releaseMarker(actorID)
		out.State = CompletionUnhandled
		return out, nil
	}
	if err := s.sender.Send(ctx, to, subject, body); err != nil {
		notificationsSent.WithLabelValues("failed").Inc()
		s.log.Warn("completion notification failed, marker released for retry", "actor_id", actorID, "error", err)
		s.releaseMarker(actorID)
		out.State = CompletionUnhandled
		return out, nil
	}
	notificationsSent.WithLabelValues("sent").Inc()
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "system", Action: "completion.notify", Target: actorID, Note: to})
	out.Notified = true
	return out, nil
}

// runAnalysis returns nil when the analyzer is unavailable or fails; the
// notification goes out regardless.
func (s *FunnelService) runAnalysis(ctx context.Context, actorID string) *Analysis {
	if s.analyzer == nil {
		analysisRuns.WithLabelValues("unavailable").Inc()
		return nil
	}
	results, err := s.AggregateAllResults(actorID)
	if err != nil {
		s.log.Warn("ai analysis: aggregate results failed", "actor_id", actorID, "error", err)
		analysisRuns.WithLabelValues("failed").Inc()
		return nil
	}
	analysis, err := s.analyzer.GenerateAnalysis(ctx, actorID, results)
	if err != nil || analysis == nil {
		s.log.Warn("ai analysis failed", "actor_id", actorID, "error", err)
		analysisRuns.WithLabelValues("failed").Inc()
		return nil
	}
	if analysis.GeneratedAt.IsZero() {
		analysis.GeneratedAt = s.now()
	}
	b, err := json.Marshal(analysis)
	if err == nil {
		err = s.store.SetMeta(actorID, AnalysisKey, b)
	}
	if err != nil {
		s.log.Warn("ai analysis: persist failed", "actor_id", actorID, "error", err)
	}
	analysisRuns.WithLabelValues("ok").Inc()
	return analysis
}

func (s *FunnelService) releaseMarker(actorID string) {
	if err := s.store.DeleteMeta(actorID, CompletionMarkerKey); err != nil {
		s.log.Error("release completion marker", "actor_id", actorID, "error", err)
	}
}

// recipientFor picks the linked employer's address, falling back to the
// admin address.
func (s *FunnelService) recipientFor(actor *Actor) string {
	if actor != nil && actor.LinkedEmployerID != "" {
		employer, err := s.store.GetActor(actor.LinkedEmployerID)
		if err != nil {
			s.log.Warn("completion notification: employer lookup failed", "employer_id", actor.LinkedEmployerID, "error", err)
		} else if employer != nil && employer.Email != "" {
			return employer.Email
		}
	}
	return s.adminEmail
}

var completionEmail = template.Must(template.New("completion").Parse(`<h2>{{.Name}} has completed all assessments</h2>
<p>Completed at {{.CompletedAt}}.</p>
{{with .Analysis}}
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
{{if .Strengths}}<h3>Strengths</h3><ul>{{range .Strengths}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .RedFlags}}<h3>Red flags</h3><ul>{{range .RedFlags}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Recommendations}}<h3>Recommendations</h3><ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{end}}`))

func composeCompletionEmail(actor *Actor, actorID, completedAt string, analysis *Analysis) (string, string, error) {
	name := actor.Name()
	if name == "" {
		name = actorID
	}
	var buf bytes.Buffer
	err := completionEmail.Execute(&buf, struct {
		Name        string
		CompletedAt string
		Analysis    *Analysis
	}{name, completedAt, analysis})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s completed all assessments", name), buf.String(), nil
}
