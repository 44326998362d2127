package db

import (
	"time"

	"gorm.io/datatypes"
)

type ActorRow struct {
	ID               string         `gorm:"primaryKey;size:64"`
	Email            string         `gorm:"size:320;uniqueIndex"`
	DisplayName      string         `gorm:"size:200"`
	PassHash         []byte         `gorm:"type:blob"`
	Roles            datatypes.JSON `gorm:"type:json"`
	LinkedEmployerID string         `gorm:"size:64;index"`
	CreatedAt        time.Time
}

func (ActorRow) TableName() string { return "actors" }

// MetaRow is one per-actor attribute. (actor_id, meta_key) is unique, which
// is what makes ClaimMeta a conditional insert.
type MetaRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ActorID   string `gorm:"size:64;not null;uniqueIndex:idx_actor_meta_key"`
	MetaKey   string `gorm:"size:191;not null;uniqueIndex:idx_actor_meta_key"`
	Value     []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}

func (MetaRow) TableName() string { return "actor_meta" }

type OptionRow struct {
	Key       string `gorm:"column:option_key;primaryKey;size:191"`
	Value     []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}

func (OptionRow) TableName() string { return "options" }

type StrainRow struct {
	Seq               uint   `gorm:"primaryKey;autoIncrement"`
	ResultID          string `gorm:"size:64;uniqueIndex"`
	ActorID           string `gorm:"size:64;not null;index"`
	RawRumination     float64
	RawAvoidance      float64
	RawEmotionalFlood float64
	Rumination        float64
	Avoidance         float64
	EmotionalFlood    float64
	OverallStrain     float64
	CalculatedAt      time.Time `gorm:"index"`
}

func (StrainRow) TableName() string { return "strain_index_results" }

type PeerFeedbackRow struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	SubjectID  string         `gorm:"size:64;not null;uniqueIndex:idx_peer_pair"`
	ReviewerID string         `gorm:"size:64;not null;uniqueIndex:idx_peer_pair"`
	Payload    datatypes.JSON `gorm:"type:json"`
	CreatedAt  time.Time
}

func (PeerFeedbackRow) TableName() string { return "peer_feedback" }

type AuditRow struct {
	ID     uint      `gorm:"primaryKey;autoIncrement"`
	Time   time.Time `gorm:"index"`
	Actor  string    `gorm:"size:64"`
	Action string    `gorm:"size:64;index"`
	Target string    `gorm:"size:64"`
	Note   string
}

func (AuditRow) TableName() string { return "audit_log" }
