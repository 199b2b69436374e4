package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity views returned by the public operation surface. These are
// read-only projections of the index; mutations go through pkg/empi.
type IdentityView struct {
	ID               uuid.UUID   `json:"id"`
	EMPINumber       string      `json:"empi_number"`
	PatientReference string      `json:"patient_reference"`
	Status           string      `json:"status"` // ACTIVE, MERGED, INACTIVE
	Active           bool        `json:"active"`
	MergedInto       *uuid.UUID  `json:"merged_into,omitempty"`
	Aliases          []AliasView `json:"aliases"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

type AliasView struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Value        string    `json:"value"`
	SourceSystem string    `json:"source_system,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type MergeEventView struct {
	ID          uuid.UUID `json:"id"`
	PrimaryID   uuid.UUID `json:"primary_id"`
	SecondaryID uuid.UUID `json:"secondary_id"`
	MergeType   string    `json:"merge_type"` // manual, automated, rule
	Resolution  string    `json:"resolution,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Request payloads
type LinkRequest struct {
	PatientReference string `json:"patient_reference"`
	AliasType        string `json:"alias_type,omitempty"`
	AliasValue       string `json:"alias_value,omitempty"`
	SourceSystem     string `json:"source_system,omitempty"`
}

type AliasRequest struct {
	Type         string `json:"type"`
	Value        string `json:"value"`
	SourceSystem string `json:"source_system,omitempty"`
}

type MergeRequest struct {
	PrimaryID   uuid.UUID `json:"primary_id"`
	SecondaryID uuid.UUID `json:"secondary_id"`
	MergeType   string    `json:"merge_type"`
	Resolution  string    `json:"resolution,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // identity.created, identity.alias_added, identity.alias_removed, identity.merged, identity.deactivated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// IdentityEvent is the payload carried under Event.Data for every
// identity-changing operation.
type IdentityEvent struct {
	IdentityID       uuid.UUID `json:"identity_id"`
	EMPINumber       string    `json:"empi_number"`
	PatientReference string    `json:"patient_reference"`
	Kind             string    `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
}
