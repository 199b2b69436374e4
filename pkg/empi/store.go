package empi

import (
	"context"

	"github.com/google/uuid"
)

// Store is the key-indexed persistence layer the index runs against.
// Implementations must enforce uniqueness of empi_number,
// patient_reference and the (type, normalized value) alias pair at
// write time; under concurrent claims the store's constraint is the
// authoritative arbiter and the loser receives the matching conflict
// error.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*MasterIdentity, error)
	FindByPatientReference(ctx context.Context, ref string) (*MasterIdentity, error)
	FindByEMPINumber(ctx context.Context, number string) (*MasterIdentity, error)
	EMPINumberExists(ctx context.Context, number string) (bool, error)
	FindAlias(ctx context.Context, aliasType, normalizedValue string) (*IdentityAlias, error)

	// CreateIdentity persists the identity and any attached aliases as
	// one atomic unit.
	CreateIdentity(ctx context.Context, identity *MasterIdentity) error
	AddAlias(ctx context.Context, alias *IdentityAlias) error
	RemoveAlias(ctx context.Context, identityID, aliasID uuid.UUID) error
	UpdateStatus(ctx context.Context, identityID uuid.UUID, from, to Status, active bool) error

	// RecordMerge persists the merge event and the secondary's
	// transition to MERGED/inactive in a single transaction.
	RecordMerge(ctx context.Context, event *MergeEvent) error
	LatestMergeFor(ctx context.Context, secondaryID uuid.UUID) (*MergeEvent, error)
}
