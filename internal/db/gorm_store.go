package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcoach/assessment-engine/internal/api"
	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/services"
)

type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(gdb *gorm.DB, log *logger.Logger) (*GormStore, error) {
	if gdb == nil {
		return nil, errors.New("nil db")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GormStore{db: gdb, log: log.With("store", "sqlite")}, nil
}

func NewStore(gdb *gorm.DB, log *logger.Logger) (api.Store, error) {
	return NewGormStore(gdb, log)
}

func (s *GormStore) logErr(prefix string, err error) {
	if err != nil {
		s.log.Error("sqlite store: "+prefix, "error", err)
	}
}

func contextBg() context.Context { return context.Background() }

func (s *GormStore) tx() *gorm.DB { return s.db.WithContext(contextBg()) }

func actorFromRow(r *ActorRow) *api.Actor {
	a := &api.Actor{
		ID:               r.ID,
		Email:            r.Email,
		DisplayName:      r.DisplayName,
		PassHash:         r.PassHash,
		LinkedEmployerID: r.LinkedEmployerID,
		CreatedAt:        r.CreatedAt,
	}
	if len(r.Roles) > 0 {
		if err := json.Unmarshal(r.Roles, &a.Roles); err != nil {
			a.Roles = nil
		}
	}
	return a
}

func encodeRoles(roles []string) (datatypes.JSON, error) {
	if roles == nil {
		roles = []string{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (s *GormStore) AddActor(a *api.Actor) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("actor id required")
	}
	roles, err := encodeRoles(a.Roles)
	if err != nil {
		return err
	}
	row := ActorRow{
		ID:               a.ID,
		Email:            strings.ToLower(strings.TrimSpace(a.Email)),
		DisplayName:      a.DisplayName,
		PassHash:         a.PassHash,
		Roles:            roles,
		LinkedEmployerID: a.LinkedEmployerID,
		CreatedAt:        a.CreatedAt,
	}
	return s.tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "pass_hash", "roles", "linked_employer_id"}),
	}).Create(&row).Error
}

func (s *GormStore) GetActor(id string) (*api.Actor, error) {
	var row ActorRow
	err := s.tx().Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return actorFromRow(&row), nil
}

func (s *GormStore) FindActorByEmail(email string) (*api.Actor, error) {
	var row ActorRow
	err := s.tx().Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return actorFromRow(&row), nil
}

func (s *GormStore) listActors(q *gorm.DB) ([]*api.Actor, error) {
	var rows []ActorRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*api.Actor, 0, len(rows))
	for i := range rows {
		out = append(out, actorFromRow(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) ListActors() ([]*api.Actor, error) {
	return s.listActors(s.tx())
}

func (s *GormStore) ListActorsByEmployer(employerID string) ([]*api.Actor, error) {
	return s.listActors(s.tx().Where("linked_employer_id = ?", employerID))
}

func (s *GormStore) SetActorRoles(id string, roles []string) error {
	enc, err := encodeRoles(roles)
	if err != nil {
		return err
	}
	res := s.tx().Model(&ActorRow{}).Where("id = ?", id).Update("roles", enc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("actor %s not found", id)
	}
	return nil
}

func (s *GormStore) GetMeta(actorID, key string) ([]byte, error) {
	var row MetaRow
	err := s.tx().Where("actor_id = ? AND meta_key = ?", actorID, key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.Value == nil {
		return []byte{}, nil
	}
	return row.Value, nil
}

func (s *GormStore) SetMeta(actorID, key string, value []byte) error {
	row := MetaRow{ActorID: actorID, MetaKey: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) DeleteMeta(actorID, key string) error {
	return s.tx().Where("actor_id = ? AND meta_key = ?", actorID, key).Delete(&MetaRow{}).Error
}

// ClaimMeta inserts the row unless (actor_id, meta_key) already exists; the
// unique index makes the check and the write one statement.
func (s *GormStore) ClaimMeta(actorID, key string, value []byte) (bool, error) {
	row := MetaRow{ActorID: actorID, MetaKey: key, Value: value, UpdatedAt: time.Now().UTC()}
	res := s.tx().Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetOption(key string) ([]byte, bool, error) {
	var row OptionRow
	err := s.tx().Where("option_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Value, true, nil
}

func (s *GormStore) UpdateOption(key string, value []byte) error {
	row := OptionRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "option_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) DeleteOption(key string) error {
	return s.tx().Where("option_key = ?", key).Delete(&OptionRow{}).Error
}

func (s *GormStore) AppendStrainResult(r *services.StrainIndexResult) error {
	if r == nil {
		return fmt.Errorf("strain result required")
	}
	row := StrainRow{
		ResultID:          r.ID,
		ActorID:           r.ActorID,
		RawRumination:     r.RawRumination,
		RawAvoidance:      r.RawAvoidance,
		RawEmotionalFlood: r.RawEmotionalFlood,
		Rumination:        r.Rumination,
		Avoidance:         r.Avoidance,
		EmotionalFlood:    r.EmotionalFlood,
		OverallStrain:     r.OverallStrain,
		CalculatedAt:      r.CalculatedAt,
	}
	return s.tx().Create(&row).Error
}

// ListStrainResults returns newest first.
func (s *GormStore) ListStrainResults(actorID string) ([]*services.StrainIndexResult, error) {
	var rows []StrainRow
	if err := s.tx().Where("actor_id = ?", actorID).Order("seq desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*services.StrainIndexResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, &services.StrainIndexResult{
			ID:                r.ResultID,
			ActorID:           r.ActorID,
			RawRumination:     r.RawRumination,
			RawAvoidance:      r.RawAvoidance,
			RawEmotionalFlood: r.RawEmotionalFlood,
			Rumination:        r.Rumination,
			Avoidance:         r.Avoidance,
			EmotionalFlood:    r.EmotionalFlood,
			OverallStrain:     r.OverallStrain,
			CalculatedAt:      r.CalculatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) AddPeerFeedback(subjectID, reviewerID string, payload []byte) (bool, error) {
	row := PeerFeedbackRow{SubjectID: subjectID, ReviewerID: reviewerID, Payload: datatypes.JSON(payload)}
	res := s.tx().Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CountPeerFeedback(subjectID string) (int, error) {
	var n int64
	err := s.tx().Model(&PeerFeedbackRow{}).Where("subject_id = ?", subjectID).Count(&n).Error
	return int(n), err
}

func (s *GormStore) AddAudit(e api.AuditEntry) {
	row := AuditRow{Time: e.Time, Actor: e.Actor, Action: e.Action, Target: e.Target, Note: e.Note}
	s.logErr("add audit", s.tx().Create(&row).Error)
}

func (s *GormStore) ListAudit() []api.AuditEntry {
	var rows []AuditRow
	if err := s.tx().Order("id").Find(&rows).Error; err != nil {
		s.logErr("list audit", err)
		return nil
	}
	out := make([]api.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, api.AuditEntry{Time: r.Time, Actor: r.Actor, Action: r.Action, Target: r.Target, Note: r.Note})
	}
	return out
}

var _ api.Store = (*GormStore)(nil)
