package api

import "github.com/mcoach/assessment-engine/internal/services"

// engineStoreAdapter backs the funnel, the strain scorer and the peer-review
// inputs, which all share per-actor meta storage.
type engineStoreAdapter struct {
	store Store
}

func newEngineStoreAdapter(store Store) *engineStoreAdapter {
	return &engineStoreAdapter{store: store}
}

func (a *engineStoreAdapter) GetMeta(actorID, key string) ([]byte, error) {
	return a.store.GetMeta(actorID, key)
}

func (a *engineStoreAdapter) SetMeta(actorID, key string, value []byte) error {
	return a.store.SetMeta(actorID, key, value)
}

func (a *engineStoreAdapter) DeleteMeta(actorID, key string) error {
	return a.store.DeleteMeta(actorID, key)
}

func (a *engineStoreAdapter) ClaimMeta(actorID, key string, value []byte) (bool, error) {
	return a.store.ClaimMeta(actorID, key, value)
}

func (a *engineStoreAdapter) GetOption(key string) ([]byte, bool, error) {
	return a.store.GetOption(key)
}

func (a *engineStoreAdapter) UpdateOption(key string, value []byte) error {
	return a.store.UpdateOption(key, value)
}

func (a *engineStoreAdapter) DeleteOption(key string) error {
	return a.store.DeleteOption(key)
}

func (a *engineStoreAdapter) GetActor(id string) (*services.Actor, error) {
	u, err := a.store.GetActor(id)
	if err != nil {
		return nil, err
	}
	return toServiceActor(u), nil
}

func (a *engineStoreAdapter) AppendStrainResult(r *services.StrainIndexResult) error {
	return a.store.AppendStrainResult(r)
}

func (a *engineStoreAdapter) ListStrainResults(actorID string) ([]*services.StrainIndexResult, error) {
	return a.store.ListStrainResults(actorID)
}

func (a *engineStoreAdapter) AddPeerFeedback(subjectID, reviewerID string, payload []byte) (bool, error) {
	return a.store.AddPeerFeedback(subjectID, reviewerID, payload)
}

func (a *engineStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(toAPIAudit(entry))
}

var (
	_ services.FunnelStore       = (*engineStoreAdapter)(nil)
	_ services.StrainStore       = (*engineStoreAdapter)(nil)
	_ services.PeerFeedbackStore = (*engineStoreAdapter)(nil)
)

// peerSourceAdapter derives peer-review progress from stored meta and
// feedback rows. The final profile lives under the peer quiz's results key.
type peerSourceAdapter struct {
	store      Store
	profileKey string
}

func newPeerSourceAdapter(store Store, quizzes services.QuizRegistry) services.PeerReviewSource {
	p := &peerSourceAdapter{store: store}
	for _, q := range quizzes.ListQuizzes() {
		if q.PeerReview {
			p.profileKey = q.ResultsKey
			break
		}
	}
	return p
}

func (p *peerSourceAdapter) SelfAssessmentSubmitted(actorID string) (bool, error) {
	raw, err := p.store.GetMeta(actorID, services.PeerSelfKey)
	return services.PayloadPresent(raw), err
}

func (p *peerSourceAdapter) PeerFeedbackCount(actorID string) (int, error) {
	return p.store.CountPeerFeedback(actorID)
}

func (p *peerSourceAdapter) HasFinalProfile(actorID string) (bool, error) {
	if p.profileKey == "" {
		return false, nil
	}
	raw, err := p.store.GetMeta(actorID, p.profileKey)
	if err != nil {
		return false, err
	}
	return services.PayloadPresent(raw), nil
}
