package empi

import (
	"context"
	"fmt"

	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MergeIdentities retires the secondary identity in favor of the
// primary and records the consolidation. The secondary transitions to
// MERGED/inactive in the same transaction that persists the audit
// event; the primary is left untouched. There is no unmerge.
//
// Aliases stay on the retired secondary for audit. Lookups by those
// aliases keep resolving, but to a view with status MERGED and a
// pointer to the surviving identity.
func (s *Service) MergeIdentities(ctx context.Context, primaryID, secondaryID uuid.UUID, mergeType, resolution string) (models.MergeEventView, error) {
	if primaryID == secondaryID {
		return models.MergeEventView{}, fmt.Errorf("%w: an identity cannot be merged into itself", ErrInvalidInput)
	}
	switch mergeType {
	case MergeTypeManual, MergeTypeAutomated, MergeTypeRule:
	default:
		return models.MergeEventView{}, fmt.Errorf("%w: unknown merge type %q", ErrInvalidInput, mergeType)
	}

	primary, err := s.store.FindByID(ctx, primaryID)
	if err != nil {
		return models.MergeEventView{}, err
	}
	secondary, err := s.store.FindByID(ctx, secondaryID)
	if err != nil {
		return models.MergeEventView{}, err
	}

	if primary.Status != StatusActive || secondary.Status != StatusActive {
		return models.MergeEventView{}, ErrIdentityNotActive
	}

	event := &MergeEvent{
		PrimaryID:   primaryID,
		SecondaryID: secondaryID,
		MergeType:   mergeType,
		Resolution:  resolution,
		Details: datatypes.JSONMap{
			"primary_empi_number":   primary.EMPINumber,
			"secondary_empi_number": secondary.EMPINumber,
		},
	}

	if err := s.store.RecordMerge(ctx, event); err != nil {
		return models.MergeEventView{}, err
	}

	metrics.IncMergeCompleted()
	logger.Log.WithFields(map[string]interface{}{
		"primary_id":   primaryID,
		"secondary_id": secondaryID,
		"merge_type":   mergeType,
	}).Info("identities merged")

	// The cached secondary view still reads ACTIVE; drop it so the
	// next lookup surfaces the merge.
	staleView := mapIdentity(*secondary, nil)
	s.cache.Drop(ctx, staleView)

	secondary.Status = StatusMerged
	secondary.Active = false
	s.notifier.Publish(ctx, EventIdentityMerged, mapIdentity(*secondary, &primaryID))

	return mapMergeEvent(*event), nil
}
