package empi

import (
	"strings"
	"time"

	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusMerged   Status = "MERGED"
	StatusInactive Status = "INACTIVE"
)

const (
	MergeTypeManual    = "manual"
	MergeTypeAutomated = "automated"
	MergeTypeRule      = "rule"
)

// Event kinds published on identity-changing operations.
const (
	EventIdentityCreated     = "identity.created"
	EventAliasAdded          = "identity.alias_added"
	EventAliasRemoved        = "identity.alias_removed"
	EventIdentityMerged      = "identity.merged"
	EventIdentityDeactivated = "identity.deactivated"
)

// MasterIdentity is the canonical record for one real-world patient.
// Rows are never deleted; a retired identity stays behind with status
// MERGED or INACTIVE for audit.
type MasterIdentity struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	EMPINumber       string    `gorm:"column:empi_number;uniqueIndex"`
	PatientReference string    `gorm:"uniqueIndex"`
	Status           Status    `gorm:"index"`
	Active           bool
	Aliases          []IdentityAlias `gorm:"foreignKey:IdentityID"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (MasterIdentity) TableName() string {
	return "master_identities"
}

// IdentityAlias records one external identifier known to refer to a
// master identity. The owner pointer is one-directional: the alias
// stores the owning identity's id, reverse lookup goes through the
// (type, normalized value) unique index.
type IdentityAlias struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdentityID      uuid.UUID `gorm:"type:uuid;index"`
	Type            string    `gorm:"uniqueIndex:idx_identity_aliases_type_value"`
	Value           string
	NormalizedValue string `gorm:"uniqueIndex:idx_identity_aliases_type_value"`
	SourceSystem    string
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time
}

func (IdentityAlias) TableName() string {
	return "identity_aliases"
}

// Orphaned reports whether the alias has no owning identity. Such a row
// is an inconsistent state and is rejected by every operation that
// encounters it.
func (a IdentityAlias) Orphaned() bool {
	return a.IdentityID == uuid.Nil
}

// MergeEvent is the immutable audit record of one consolidation. The
// repository exposes no update or delete path for it.
type MergeEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	PrimaryID   uuid.UUID `gorm:"type:uuid;index"`
	SecondaryID uuid.UUID `gorm:"type:uuid;index"`
	MergeType   string
	Resolution  string
	Details     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (MergeEvent) TableName() string {
	return "merge_events"
}

// NormalizeAlias trims and lower-cases alias types and values so that
// matching is exact but case- and whitespace-insensitive.
func NormalizeAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mapIdentity(m MasterIdentity, mergedInto *uuid.UUID) models.IdentityView {
	aliases := make([]models.AliasView, 0, len(m.Aliases))
	for _, a := range m.Aliases {
		aliases = append(aliases, models.AliasView{
			ID:           a.ID,
			Type:         a.Type,
			Value:        a.Value,
			SourceSystem: a.SourceSystem,
			CreatedAt:    a.CreatedAt,
		})
	}
	return models.IdentityView{
		ID:               m.ID,
		EMPINumber:       m.EMPINumber,
		PatientReference: m.PatientReference,
		Status:           string(m.Status),
		Active:           m.Active,
		MergedInto:       mergedInto,
		Aliases:          aliases,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func mapMergeEvent(e MergeEvent) models.MergeEventView {
	return models.MergeEventView{
		ID:          e.ID,
		PrimaryID:   e.PrimaryID,
		SecondaryID: e.SecondaryID,
		MergeType:   e.MergeType,
		Resolution:  e.Resolution,
		CreatedAt:   e.CreatedAt,
	}
}
