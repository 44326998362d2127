package api

import "github.com/mcoach/assessment-engine/internal/services"

func toServiceActor(a *Actor) *services.Actor {
	if a == nil {
		return nil
	}
	return &services.Actor{
		ID:               a.ID,
		Email:            a.Email,
		DisplayName:      a.DisplayName,
		PassHash:         a.PassHash,
		Roles:            append([]string(nil), a.Roles...),
		LinkedEmployerID: a.LinkedEmployerID,
		CreatedAt:        a.CreatedAt,
	}
}

func toServiceActors(list []*Actor) []*services.Actor {
	out := make([]*services.Actor, 0, len(list))
	for _, a := range list {
		out = append(out, toServiceActor(a))
	}
	return out
}

func toAPIAudit(e services.AuditEntry) AuditEntry {
	return AuditEntry{Time: e.Time, Actor: e.Actor, Action: e.Action, Target: e.Target, Note: e.Note}
}

// actorStoreAdapter serves the role registry and the employer view.
type actorStoreAdapter struct{ store Store }

// NewRoleStore adapts store for services.NewRoleRegistry.
func NewRoleStore(store Store) services.RoleStore { return &actorStoreAdapter{store: store} }

func newEmployerStoreAdapter(store Store) services.EmployerStore {
	return &actorStoreAdapter{store: store}
}

func (a *actorStoreAdapter) GetActor(id string) (*services.Actor, error) {
	u, err := a.store.GetActor(id)
	if err != nil {
		return nil, err
	}
	return toServiceActor(u), nil
}

func (a *actorStoreAdapter) ListActors() ([]*services.Actor, error) {
	list, err := a.store.ListActors()
	if err != nil {
		return nil, err
	}
	return toServiceActors(list), nil
}

func (a *actorStoreAdapter) ListLinkedEmployees(employerID string) ([]*services.Actor, error) {
	list, err := a.store.ListActorsByEmployer(employerID)
	if err != nil {
		return nil, err
	}
	return toServiceActors(list), nil
}

func (a *actorStoreAdapter) SetActorRoles(id string, roles []string) error {
	return a.store.SetActorRoles(id, roles)
}

func (a *actorStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(toAPIAudit(entry))
}

var (
	_ services.RoleStore     = (*actorStoreAdapter)(nil)
	_ services.EmployerStore = (*actorStoreAdapter)(nil)
)
