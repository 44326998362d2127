package api

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcoach/assessment-engine/internal/services"
)

type Actor struct {
	ID               string
	Email            string
	DisplayName      string
	PassHash         []byte
	Roles            []string
	LinkedEmployerID string
	CreatedAt        time.Time
}

// audit log
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

type peerFeedback struct {
	reviewerID string
	payload    []byte
}

type memoryStore struct {
	mu           sync.RWMutex
	actors       map[string]*Actor
	actorByEmail map[string]string
	meta         map[string]map[string][]byte
	options      map[string][]byte
	strain       map[string][]*services.StrainIndexResult
	feedback     map[string][]peerFeedback
	audit        []AuditEntry
}

// NewMemoryStore returns a process-local Store. Data does not survive a restart.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		actors:       map[string]*Actor{},
		actorByEmail: map[string]string{},
		meta:         map[string]map[string][]byte{},
		options:      map[string][]byte{},
		strain:       map[string][]*services.StrainIndexResult{},
		feedback:     map[string][]peerFeedback{},
		audit:        []AuditEntry{},
	}
}

func copyActor(a *Actor) *Actor {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	return &cp
}

func (s *memoryStore) AddActor(a *Actor) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("actor id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if id, ok := s.actorByEmail[email]; ok && email != "" && id != a.ID {
		return fmt.Errorf("email already registered")
	}
	if prev, ok := s.actors[a.ID]; ok {
		if old := strings.ToLower(strings.TrimSpace(prev.Email)); old != email && s.actorByEmail[old] == a.ID {
			delete(s.actorByEmail, old)
		}
	}
	s.actors[a.ID] = copyActor(a)
	if email != "" {
		s.actorByEmail[email] = a.ID
	}
	return nil
}

func (s *memoryStore) GetActor(id string) (*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyActor(s.actors[id]), nil
}

func (s *memoryStore) FindActorByEmail(email string) (*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.actorByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return copyActor(s.actors[id]), nil
}

func (s *memoryStore) ListActors() ([]*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, copyActor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListActorsByEmployer(employerID string) ([]*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Actor{}
	for _, a := range s.actors {
		if a.LinkedEmployerID == employerID {
			out = append(out, copyActor(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) SetActorRoles(id string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return fmt.Errorf("actor %s not found", id)
	}
	a.Roles = append([]string(nil), roles...)
	return nil
}

func (s *memoryStore) GetMeta(actorID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[actorID][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memoryStore) SetMeta(actorID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMetaLocked(actorID, key, value)
	return nil
}

func (s *memoryStore) setMetaLocked(actorID, key string, value []byte) {
	if s.meta[actorID] == nil {
		s.meta[actorID] = map[string][]byte{}
	}
	s.meta[actorID][key] = append([]byte(nil), value...)
}

func (s *memoryStore) DeleteMeta(actorID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta[actorID], key)
	return nil
}

func (s *memoryStore) ClaimMeta(actorID, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meta[actorID][key]; ok {
		return false, nil
	}
	s.setMetaLocked(actorID, key, value)
	return true, nil
}

func (s *memoryStore) GetOption(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.options[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memoryStore) UpdateOption(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[key] = append([]byte(nil), value...)
	return nil
}

func (s *memoryStore) DeleteOption(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, key)
	return nil
}

func (s *memoryStore) AppendStrainResult(r *services.StrainIndexResult) error {
	if r == nil {
		return fmt.Errorf("strain result required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.strain[r.ActorID] = append(s.strain[r.ActorID], &cp)
	return nil
}

// ListStrainResults returns newest first.
func (s *memoryStore) ListStrainResults(actorID string) ([]*services.StrainIndexResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.strain[actorID]
	out := make([]*services.StrainIndexResult, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) AddPeerFeedback(subjectID, reviewerID string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.feedback[subjectID] {
		if f.reviewerID == reviewerID {
			return false, nil
		}
	}
	s.feedback[subjectID] = append(s.feedback[subjectID], peerFeedback{reviewerID: reviewerID, payload: append([]byte(nil), payload...)})
	return true, nil
}

func (s *memoryStore) CountPeerFeedback(subjectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feedback[subjectID]), nil
}

func (s *memoryStore) AddAudit(e AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
