package services

import (
	"sort"

	json "github.com/goccy/go-json"
)

type EmployerStore interface {
	GetActor(id string) (*Actor, error)
	ListLinkedEmployees(employerID string) ([]*Actor, error)
}

type EmployeeSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Completion  map[string]bool `json:"completion"`
	AllComplete bool            `json:"all_complete"`
}

// EmployerService gives employers a role-gated view over linked employees.
type EmployerService struct {
	store  EmployerStore
	roles  *RoleRegistry
	funnel *FunnelService
}

func NewEmployerService(store EmployerStore, roles *RoleRegistry, funnel *FunnelService) *EmployerService {
	return &EmployerService{store: store, roles: roles, funnel: funnel}
}

// ListEmployees returns the employer's linked employees with completion.
func (s *EmployerService) ListEmployees(employer *Actor) ([]EmployeeSummary, error) {
	if err := s.roles.Require(employer, CapManageEmployees); err != nil {
		return nil, err
	}
	list, err := s.store.ListLinkedEmployees(employer.ID)
	if err != nil {
		return nil, err
	}
	required := s.funnel.Config().RequiredSteps()
	out := make([]EmployeeSummary, 0, len(list))
	for _, e := range list {
		status, err := s.funnel.GetCompletionStatus(e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, EmployeeSummary{
			ID:          e.ID,
			Name:        e.Name(),
			Email:       e.Email,
			Completion:  status,
			AllComplete: allRequiredComplete(required, status),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// EmployeeResults returns a linked employee's aggregated results. Employers
// only see their own employees; administrators see everyone.
func (s *EmployerService) EmployeeResults(viewer *Actor, employeeID string) (map[string]json.RawMessage, error) {
	if err := s.roles.Require(viewer, CapViewSensitiveReports); err != nil {
		return nil, err
	}
	e, err := s.store.GetActor(employeeID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewNotFoundError("employee not found")
	}
	if role, _ := s.roles.PrimaryRole(viewer); role != RoleAdministrator && e.LinkedEmployerID != viewer.ID {
		return nil, NewForbiddenError("forbidden")
	}
	return s.funnel.AggregateAllResults(employeeID)
}
