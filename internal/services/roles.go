package services

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcoach/assessment-engine/internal/logger"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Sorted lists the set in a stable order.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var knownCapabilities = []Capability{
	CapManageEmployees,
	CapViewSensitiveReports,
	CapGenerateExperiments,
	CapTakeAssessments,
	CapViewOwnResults,
	CapManageFunnel,
}

// ParseRole maps a role name onto a Role. Unknown names are a hard error.
func ParseRole(name string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(name))) {
	case RoleEmployer:
		return RoleEmployer, nil
	case RoleEmployee:
		return RoleEmployee, nil
	case RoleAdministrator:
		return RoleAdministrator, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(knownCapabilities, c) {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
}

type RoleStore interface {
	GetActor(id string) (*Actor, error)
	ListActors() ([]*Actor, error)
	SetActorRoles(id string, roles []string) error
	AddAudit(entry AuditEntry)
}

// RoleRegistry owns the role to capability table and the legacy role fixer.
type RoleRegistry struct {
	mu    sync.RWMutex
	caps  map[Role]CapabilitySet
	store RoleStore
	log   *logger.Logger
	now   func() time.Time
}

func NewRoleRegistry(store RoleStore, log *logger.Logger) *RoleRegistry {
	if log == nil {
		log = logger.Nop()
	}
	r := &RoleRegistry{
		caps:  map[Role]CapabilitySet{},
		store: store,
		log:   log.With("service", "RoleRegistry"),
		now:   func() time.Time { return time.Now().UTC() },
	}
	_ = r.Register(RoleEmployer, CapManageEmployees, CapViewSensitiveReports, CapGenerateExperiments)
	_ = r.Register(RoleEmployee, CapTakeAssessments, CapViewOwnResults)
	_ = r.Register(RoleAdministrator, knownCapabilities...)
	return r
}

// Register adds capabilities to role. Registering what already exists is a no-op.
func (r *RoleRegistry) Register(role Role, caps ...Capability) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	for _, c := range caps {
		if _, err := ParseCapability(string(c)); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.caps[role]
	if !ok {
		set = CapabilitySet{}
		r.caps[role] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return nil
}

// PrimaryRole returns the first role tag on the actor that the registry knows.
func (r *RoleRegistry) PrimaryRole(a *Actor) (Role, bool) {
	if a == nil {
		return "", false
	}
	if a.HasRoleTag(RoleAdministrator) {
		return RoleAdministrator, true
	}
	for _, tag := range a.Roles {
		role, err := ParseRole(tag)
		if err != nil {
			continue
		}
		return role, true
	}
	return "", false
}

// CapabilitiesFor returns the fixed capability set of the actor's primary role.
// Administrators get the union of every registered role.
func (r *RoleRegistry) CapabilitiesFor(a *Actor) CapabilitySet {
	out := CapabilitySet{}
	role, ok := r.PrimaryRole(a)
	if !ok {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == RoleAdministrator {
		for _, set := range r.caps {
			for c := range set {
				out[c] = struct{}{}
			}
		}
		return out
	}
	for c := range r.caps[role] {
		out[c] = struct{}{}
	}
	return out
}

func (r *RoleRegistry) HasCapability(a *Actor, c Capability) bool {
	return r.CapabilitiesFor(a).Has(c)
}

// Require checks c against the actor. An unregistered capability is a
// structural error rather than a denial.
func (r *RoleRegistry) Require(a *Actor, c Capability) error {
	if _, err := ParseCapability(string(c)); err != nil {
		return err
	}
	if a == nil {
		return NewUnauthorizedError("unauthorized")
	}
	if !r.HasCapability(a, c) {
		return NewForbiddenError("forbidden")
	}
	return nil
}

// AssignRoleForLegacyActor gives a pre-existing actor exactly one of
// employer/employee: employee when a linked employer is recorded, employer
// otherwise. Administrators are left untouched. Running it again is a no-op.
func (r *RoleRegistry) AssignRoleForLegacyActor(actorID string) (Role, error) {
	a, err := r.store.GetActor(actorID)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", NewNotFoundError("actor not found")
	}
	if a.HasRoleTag(RoleAdministrator) {
		return RoleAdministrator, nil
	}
	target := RoleEmployer
	if strings.TrimSpace(a.LinkedEmployerID) != "" {
		target = RoleEmployee
	}
	roles := legacyRoles(a.Roles, target)
	if slices.Equal(roles, a.Roles) {
		return target, nil
	}
	if err := r.store.SetActorRoles(a.ID, roles); err != nil {
		return "", fmt.Errorf("set roles for %s: %w", a.ID, err)
	}
	r.store.AddAudit(AuditEntry{Time: r.now(), Actor: "system", Action: "role.migrate", Target: a.ID, Note: string(target)})
	r.log.Info("assigned legacy role", "actor_id", a.ID, "role", target)
	return target, nil
}

// MigrateLegacyActors runs AssignRoleForLegacyActor over every actor and
// reports how many were visited.
func (r *RoleRegistry) MigrateLegacyActors() (int, error) {
	actors, err := r.store.ListActors()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range actors {
		if _, err := r.AssignRoleForLegacyActor(a.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// legacyRoles puts target first and removes the other primary role tag,
// keeping unrelated host tags in their original order.
func legacyRoles(tags []string, target Role) []string {
	out := []string{string(target)}
	for _, t := range tags {
		if t == string(RoleEmployer) || t == string(RoleEmployee) {
			continue
		}
		out = append(out, t)
	}
	return out
}
