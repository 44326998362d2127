package services

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// PeerReviewThreshold is the number of peer responses that moves a
// self-assessment from waiting to ready.
const PeerReviewThreshold = 2

type PeerReviewState string

const (
	PeerReviewAvailable PeerReviewState = "available"
	PeerReviewWaiting   PeerReviewState = "waiting"
	PeerReviewReady     PeerReviewState = "ready"
	PeerReviewCompleted PeerReviewState = "completed"
)

// PeerReviewSource is the peer-review module's view of one actor.
type PeerReviewSource interface {
	SelfAssessmentSubmitted(actorID string) (bool, error)
	PeerFeedbackCount(actorID string) (int, error)
	HasFinalProfile(actorID string) (bool, error)
}

type PeerReviewStatus struct {
	State         PeerReviewState `json:"state"`
	Label         string          `json:"label"`
	Description   string          `json:"description"`
	FeedbackCount int             `json:"feedback_count"`
}

// PeerReviewStatus derives the peer-review state. A stored final profile wins
// regardless of feedback count; the transition into completed happens in the
// peer-review module.
func (s *FunnelService) PeerReviewStatus(actorID string) (PeerReviewStatus, error) {
	if s.peer == nil {
		return peerStatus(PeerReviewAvailable, 0), nil
	}
	done, err := s.peer.HasFinalProfile(actorID)
	if err != nil {
		return PeerReviewStatus{}, fmt.Errorf("peer review profile: %w", err)
	}
	count, err := s.peer.PeerFeedbackCount(actorID)
	if err != nil {
		return PeerReviewStatus{}, fmt.Errorf("peer review feedback: %w", err)
	}
	if done {
		return peerStatus(PeerReviewCompleted, count), nil
	}
	submitted, err := s.peer.SelfAssessmentSubmitted(actorID)
	if err != nil {
		return PeerReviewStatus{}, fmt.Errorf("peer review self assessment: %w", err)
	}
	return peerStatus(derivePeerReviewState(submitted, count, false), count), nil
}

func derivePeerReviewState(submitted bool, feedback int, profile bool) PeerReviewState {
	switch {
	case profile:
		return PeerReviewCompleted
	case !submitted:
		return PeerReviewAvailable
	case feedback >= PeerReviewThreshold:
		return PeerReviewReady
	default:
		return PeerReviewWaiting
	}
}

func peerStatus(state PeerReviewState, count int) PeerReviewStatus {
	st := PeerReviewStatus{State: state, FeedbackCount: count}
	switch state {
	case PeerReviewAvailable:
		st.Label = "Start self-assessment"
		st.Description = "Rate yourself, then invite peers for feedback."
	case PeerReviewWaiting:
		st.Label = "Waiting for feedback"
		st.Description = fmt.Sprintf("%d of %d peer responses received.", count, PeerReviewThreshold)
	case PeerReviewReady:
		st.Label = "Ready to generate profile"
		st.Description = "Enough peers have responded to build your profile."
	case PeerReviewCompleted:
		st.Label = "Profile complete"
		st.Description = "Your peer-review profile is ready."
	}
	return st
}

// PeerFeedbackStore records self-assessments and peer responses.
type PeerFeedbackStore interface {
	SetMeta(actorID, key string, value []byte) error
	// AddPeerFeedback reports false when the reviewer already responded.
	AddPeerFeedback(subjectID, reviewerID string, payload []byte) (bool, error)
	AddAudit(entry AuditEntry)
}

// PeerReviewService accepts the inputs that move an actor through the
// peer-review states. Every accepted input reruns the completion trigger,
// since reaching ready completes the peer-review step.
type PeerReviewService struct {
	store  PeerFeedbackStore
	funnel *FunnelService
	now    func() time.Time
}

func NewPeerReviewService(store PeerFeedbackStore, funnel *FunnelService) *PeerReviewService {
	return &PeerReviewService{store: store, funnel: funnel, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PeerReviewService) SubmitSelfAssessment(ctx context.Context, actorID string, payload []byte) (*TriggerOutcome, error) {
	if !json.Valid(payload) || !nonEmptyPayload(payload) {
		return nil, NewInvalidError("self assessment must be a non-empty JSON value")
	}
	if err := s.store.SetMeta(actorID, PeerSelfKey, payload); err != nil {
		return nil, fmt.Errorf("store self assessment: %w", err)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actorID, Action: "peer.self.submit", Target: actorID})
	s.funnel.invalidate(ctx, actorID)
	return s.funnel.CheckCompletionAndNotify(ctx, actorID)
}

func (s *PeerReviewService) AddFeedback(ctx context.Context, subjectID, reviewerID string, payload []byte) (*TriggerOutcome, error) {
	if subjectID == "" || reviewerID == "" {
		return nil, NewInvalidError("subject and reviewer required")
	}
	if subjectID == reviewerID {
		return nil, NewInvalidError("cannot review yourself")
	}
	if !json.Valid(payload) || !nonEmptyPayload(payload) {
		return nil, NewInvalidError("feedback must be a non-empty JSON value")
	}
	added, err := s.store.AddPeerFeedback(subjectID, reviewerID, payload)
	if err != nil {
		return nil, fmt.Errorf("store peer feedback: %w", err)
	}
	if !added {
		return nil, NewConflictError("feedback already submitted")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: reviewerID, Action: "peer.feedback.add", Target: subjectID})
	s.funnel.invalidate(ctx, subjectID)
	return s.funnel.CheckCompletionAndNotify(ctx, subjectID)
}
