package api

import "github.com/mcoach/assessment-engine/internal/services"

// Store is the persistence surface the engine's services are adapted onto.
// GetMeta returns nil for an absent key; GetActor and FindActorByEmail return
// nil for an unknown actor.
type Store interface {
	AddActor(a *Actor) error
	GetActor(id string) (*Actor, error)
	FindActorByEmail(email string) (*Actor, error)
	ListActors() ([]*Actor, error)
	ListActorsByEmployer(employerID string) ([]*Actor, error)
	SetActorRoles(id string, roles []string) error

	GetMeta(actorID, key string) ([]byte, error)
	SetMeta(actorID, key string, value []byte) error
	DeleteMeta(actorID, key string) error
	ClaimMeta(actorID, key string, value []byte) (bool, error)

	GetOption(key string) ([]byte, bool, error)
	UpdateOption(key string, value []byte) error
	DeleteOption(key string) error

	AppendStrainResult(r *services.StrainIndexResult) error
	ListStrainResults(actorID string) ([]*services.StrainIndexResult, error)

	AddPeerFeedback(subjectID, reviewerID string, payload []byte) (bool, error)
	CountPeerFeedback(subjectID string) (int, error)

	AddAudit(e AuditEntry)
	ListAudit() []AuditEntry
}

var _ Store = (*memoryStore)(nil)
