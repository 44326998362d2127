package services

import (
	"context"
	"errors"
	"sync"

	json "github.com/goccy/go-json"
)

var errStubWrite = errors.New("stub write failed")

type stubStore struct {
	mu          sync.Mutex
	actors      map[string]*Actor
	meta        map[string]map[string][]byte
	options     map[string][]byte
	strainLog   []*StrainIndexResult
	audit       []AuditEntry
	selfDone    map[string]bool
	feedback    map[string]int
	reviewers   map[string]bool
	failOptions bool
	metaWrites  map[string]int
}

func newStubStore() *stubStore {
	return &stubStore{
		actors:     map[string]*Actor{},
		meta:       map[string]map[string][]byte{},
		options:    map[string][]byte{},
		selfDone:   map[string]bool{},
		feedback:   map[string]int{},
		reviewers:  map[string]bool{},
		metaWrites: map[string]int{},
	}
}

func (s *stubStore) addActor(a *Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[a.ID] = a
}

func (s *stubStore) GetActor(id string) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	return &cp, nil
}

func (s *stubStore) ListActors() ([]*Actor, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	out := make([]*Actor, 0, len(ids))
	for _, id := range ids {
		a, _ := s.GetActor(id)
		out = append(out, a)
	}
	return out, nil
}

func (s *stubStore) SetActorRoles(id string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return errors.New("missing actor")
	}
	a.Roles = append([]string(nil), roles...)
	return nil
}

func (s *stubStore) FindActorByEmail(email string) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListLinkedEmployees(employerID string) ([]*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Actor
	for _, a := range s.actors {
		if a.LinkedEmployerID == employerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) GetMeta(actorID, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[actorID][key], nil
}

func (s *stubStore) SetMeta(actorID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta[actorID] == nil {
		s.meta[actorID] = map[string][]byte{}
	}
	s.meta[actorID][key] = append([]byte(nil), value...)
	s.metaWrites[key]++
	return nil
}

func (s *stubStore) DeleteMeta(actorID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta[actorID], key)
	return nil
}

func (s *stubStore) ClaimMeta(actorID, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meta[actorID][key]; ok {
		return false, nil
	}
	if s.meta[actorID] == nil {
		s.meta[actorID] = map[string][]byte{}
	}
	s.meta[actorID][key] = append([]byte(nil), value...)
	s.metaWrites[key]++
	return true, nil
}

func (s *stubStore) GetOption(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok, nil
}

func (s *stubStore) UpdateOption(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOptions {
		return errStubWrite
	}
	s.options[key] = value
	return nil
}

func (s *stubStore) DeleteOption(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, key)
	return nil
}

func (s *stubStore) AddAudit(entry AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
}

func (s *stubStore) AppendStrainResult(r *StrainIndexResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.strainLog = append(s.strainLog, &cp)
	return nil
}

func (s *stubStore) ListStrainResults(actorID string) ([]*StrainIndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StrainIndexResult
	for _, r := range s.strainLog {
		if r.ActorID == actorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) SelfAssessmentSubmitted(actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfDone[actorID] || nonEmptyPayload(s.meta[actorID][PeerSelfKey]), nil
}

func (s *stubStore) PeerFeedbackCount(actorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback[actorID], nil
}

func (s *stubStore) AddPeerFeedback(subjectID, reviewerID string, _ []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subjectID + "/" + reviewerID
	if s.reviewers[k] {
		return false, nil
	}
	s.reviewers[k] = true
	s.feedback[subjectID]++
	return true, nil
}

func (s *stubStore) HasFinalProfile(actorID string) (bool, error) {
	raw, _ := s.GetMeta(actorID, "johari_mi_profile")
	return nonEmptyPayload(raw), nil
}

type stubRegistry []QuizDefinition

func (r stubRegistry) ListQuizzes() []QuizDefinition { return r }

var testQuizzes = stubRegistry{
	{Slug: "mi-quiz", Title: "Multiple Intelligences", ResultsKey: "miq_quiz_results"},
	{Slug: "cdt-quiz", Title: "Cognitive Dissonance Tolerance", ResultsKey: "cdt_quiz_results"},
	{Slug: "bartle-quiz", Title: "Player Type", ResultsKey: "bartle_quiz_results"},
	{Slug: "johari-mi-quiz", Title: "Johari x MI", ResultsKey: "johari_mi_profile", PeerReview: true},
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("smtp down")
	}
	r.sent = append(r.sent, to+"|"+subject+"|"+body)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type stubAnalyzer struct {
	calls    int
	analysis *Analysis
	err      error
}

func (a *stubAnalyzer) GenerateAnalysis(_ context.Context, _ string, results map[string]json.RawMessage) (*Analysis, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.analysis, nil
}

type countingCache struct {
	mu            sync.Mutex
	snaps         map[string]*DashboardSnapshot
	invalidations int
	blanket       int
}

func newCountingCache() *countingCache {
	return &countingCache{snaps: map[string]*DashboardSnapshot{}}
}

func (c *countingCache) Get(_ context.Context, actorID string) (*DashboardSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[actorID]
	return s, ok, nil
}

func (c *countingCache) Set(_ context.Context, actorID string, snap *DashboardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[actorID] = snap
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, actorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, actorID)
	c.invalidations++
	return nil
}

func (c *countingCache) InvalidateAll(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.snaps)
	c.snaps = map[string]*DashboardSnapshot{}
	c.blanket++
	return n, nil
}

func newTestFunnel(store *stubStore, reg QuizRegistry, opts ...func(*FunnelDeps)) *FunnelService {
	deps := FunnelDeps{Store: store, Quizzes: reg, PeerReview: store}
	for _, o := range opts {
		o(&deps)
	}
	return NewFunnelService(deps)
}
