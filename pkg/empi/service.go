package empi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DevFaso/hms-sub003/pkg/authority"
	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
	"github.com/google/uuid"
)

// linkCreateAttempts bounds how many times a losing persistence race
// on the EMPI number is answered with a fresh candidate.
const linkCreateAttempts = 3

// Service is the public operation surface of the index: identity
// linking, alias management, lookups and consolidation. All writes are
// single bounded read-then-write units of work; the store's unique
// constraints arbitrate concurrent claims.
type Service struct {
	store    Store
	gen      *Generator
	notifier Notifier
	cache    ViewCache
	catalog  authority.Catalog
}

func NewService(store Store, gen *Generator, notifier Notifier, cache ViewCache, catalog authority.Catalog) *Service {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if cache == nil {
		cache = NoopViewCache{}
	}
	return &Service{store: store, gen: gen, notifier: notifier, cache: cache, catalog: catalog}
}

// LinkIdentity resolves a source patient reference to its master
// identity, creating one when none exists. The call is idempotent:
// re-linking the same reference with the same alias returns the same
// identity and performs no write.
func (s *Service) LinkIdentity(ctx context.Context, req models.LinkRequest) (models.IdentityView, error) {
	ref := strings.TrimSpace(req.PatientReference)
	if ref == "" {
		return models.IdentityView{}, fmt.Errorf("%w: patient reference required", ErrInvalidInput)
	}

	hasAlias := strings.TrimSpace(req.AliasType) != "" || strings.TrimSpace(req.AliasValue) != ""
	var aliasType, normValue string
	if hasAlias {
		aliasType = NormalizeAlias(req.AliasType)
		normValue = NormalizeAlias(req.AliasValue)
		if aliasType == "" || normValue == "" {
			return models.IdentityView{}, fmt.Errorf("%w: alias type and value required together", ErrInvalidInput)
		}
		if err := s.catalog.Validate(aliasType, req.AliasValue); err != nil {
			return models.IdentityView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	existing, err := s.store.FindByPatientReference(ctx, ref)
	if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return models.IdentityView{}, err
	}
	found := err == nil

	if found && (!hasAlias || ownsAlias(existing, aliasType, normValue)) {
		metrics.IncLinkReused()
		return s.view(ctx, existing)
	}

	if hasAlias {
		// ownsAlias already returned for anything the preloaded
		// identity owns, so a hit here is always foreign.
		alias, err := s.store.FindAlias(ctx, aliasType, normValue)
		switch {
		case err == nil && alias.Orphaned():
			return models.IdentityView{}, ErrOrphanedAlias
		case err == nil:
			metrics.IncAliasConflict()
			return models.IdentityView{}, ErrAliasConflict
		case !errors.Is(err, ErrAliasNotFound):
			return models.IdentityView{}, err
		}
	}

	if found {
		return s.attachAlias(ctx, existing, aliasType, req.AliasValue, normValue, req.SourceSystem)
	}
	return s.createIdentity(ctx, ref, hasAlias, aliasType, req.AliasValue, normValue, req.SourceSystem)
}

func (s *Service) attachAlias(ctx context.Context, identity *MasterIdentity, aliasType, rawValue, normValue, sourceSystem string) (models.IdentityView, error) {
	if identity.Status != StatusActive {
		return models.IdentityView{}, ErrIdentityNotActive
	}

	alias := &IdentityAlias{
		IdentityID:      identity.ID,
		Type:            aliasType,
		Value:           strings.TrimSpace(rawValue),
		NormalizedValue: normValue,
		SourceSystem:    sourceSystem,
	}
	if err := s.store.AddAlias(ctx, alias); err != nil {
		if errors.Is(err, ErrDuplicateAlias) {
			// Lost a concurrent claim on the same pair.
			metrics.IncAliasConflict()
			return models.IdentityView{}, ErrAliasConflict
		}
		return models.IdentityView{}, err
	}

	refreshed, err := s.store.FindByID(ctx, identity.ID)
	if err != nil {
		return models.IdentityView{}, err
	}
	view, err := s.view(ctx, refreshed)
	if err != nil {
		return models.IdentityView{}, err
	}
	s.cache.Put(ctx, view)
	s.notifier.Publish(ctx, EventAliasAdded, view)
	return view, nil
}

func (s *Service) createIdentity(ctx context.Context, ref string, hasAlias bool, aliasType, rawValue, normValue, sourceSystem string) (models.IdentityView, error) {
	for attempt := 0; attempt < linkCreateAttempts; attempt++ {
		number, err := s.gen.Generate(ctx)
		if err != nil {
			return models.IdentityView{}, err
		}

		identity := &MasterIdentity{
			EMPINumber:       number,
			PatientReference: ref,
			Status:           StatusActive,
			Active:           true,
		}
		if hasAlias {
			identity.Aliases = []IdentityAlias{{
				Type:            aliasType,
				Value:           strings.TrimSpace(rawValue),
				NormalizedValue: normValue,
				SourceSystem:    sourceSystem,
			}}
		}

		err = s.store.CreateIdentity(ctx, identity)
		switch {
		case err == nil:
			metrics.IncIdentityCreated()
			view := mapIdentity(*identity, nil)
			s.cache.Put(ctx, view)
			s.notifier.Publish(ctx, EventIdentityCreated, view)
			return view, nil

		case errors.Is(err, errEMPINumberTaken):
			// The existence check and the insert are not atomic; a
			// concurrent creation claimed the same candidate. Fresh
			// candidate, bounded retry.
			metrics.IncIdentifierInsertRace()
			continue

		case errors.Is(err, errPatientRefTaken):
			// A concurrent link for the same patient won. Re-read the
			// winner and resolve against it exactly as the non-racing
			// path would: reuse, attach an unclaimed alias, or report
			// the conflict.
			winner, werr := s.store.FindByPatientReference(ctx, ref)
			if werr != nil {
				return models.IdentityView{}, werr
			}
			if !hasAlias || ownsAlias(winner, aliasType, normValue) {
				metrics.IncLinkReused()
				return s.view(ctx, winner)
			}
			alias, aerr := s.store.FindAlias(ctx, aliasType, normValue)
			switch {
			case aerr == nil && alias.Orphaned():
				return models.IdentityView{}, ErrOrphanedAlias
			case aerr == nil:
				metrics.IncAliasConflict()
				return models.IdentityView{}, ErrAliasConflict
			case !errors.Is(aerr, ErrAliasNotFound):
				return models.IdentityView{}, aerr
			}
			return s.attachAlias(ctx, winner, aliasType, rawValue, normValue, sourceSystem)

		case errors.Is(err, ErrDuplicateAlias):
			metrics.IncAliasConflict()
			return models.IdentityView{}, ErrAliasConflict

		default:
			return models.IdentityView{}, err
		}
	}

	metrics.IncIdentifierExhausted()
	return models.IdentityView{}, ErrIdentifierExhausted
}

// FindIdentityByAlias resolves the identity owning the given alias.
// Blank type or value short-circuits to an absent result without
// touching the index. A merged owner is returned as-is, with status
// MERGED and the pointer to the surviving identity, so callers can
// always detect the consolidation.
func (s *Service) FindIdentityByAlias(ctx context.Context, aliasType, value string) (models.IdentityView, bool, error) {
	normType := NormalizeAlias(aliasType)
	normValue := NormalizeAlias(value)
	if normType == "" || normValue == "" {
		return models.IdentityView{}, false, nil
	}

	if view, ok := s.cache.GetByAlias(ctx, normType, normValue); ok {
		return view, true, nil
	}

	alias, err := s.store.FindAlias(ctx, normType, normValue)
	if errors.Is(err, ErrAliasNotFound) {
		return models.IdentityView{}, false, nil
	}
	if err != nil {
		return models.IdentityView{}, false, err
	}
	if alias.Orphaned() {
		logger.Log.WithFields(map[string]interface{}{
			"alias_type":  normType,
			"alias_value": normValue,
		}).Error("orphaned alias encountered during lookup")
		return models.IdentityView{}, false, ErrOrphanedAlias
	}

	identity, err := s.store.FindByID(ctx, alias.IdentityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return models.IdentityView{}, false, ErrOrphanedAlias
	}
	if err != nil {
		return models.IdentityView{}, false, err
	}

	view, err := s.view(ctx, identity)
	if err != nil {
		return models.IdentityView{}, false, err
	}
	s.cache.Put(ctx, view)
	return view, true, nil
}

// AddAlias appends a new alias to an existing identity. The normalized
// (type, value) pair must not exist anywhere in the index, the same
// identity included.
func (s *Service) AddAlias(ctx context.Context, identityID uuid.UUID, req models.AliasRequest) (models.IdentityView, error) {
	aliasType := NormalizeAlias(req.Type)
	normValue := NormalizeAlias(req.Value)
	if aliasType == "" || normValue == "" {
		return models.IdentityView{}, fmt.Errorf("%w: alias type and value required", ErrInvalidInput)
	}
	if err := s.catalog.Validate(aliasType, req.Value); err != nil {
		return models.IdentityView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return models.IdentityView{}, err
	}
	if identity.Status != StatusActive {
		return models.IdentityView{}, ErrIdentityNotActive
	}

	if _, err := s.store.FindAlias(ctx, aliasType, normValue); err == nil {
		metrics.IncDuplicateRejected()
		return models.IdentityView{}, ErrDuplicateAlias
	} else if !errors.Is(err, ErrAliasNotFound) {
		return models.IdentityView{}, err
	}

	return s.attachAlias(ctx, identity, aliasType, req.Value, normValue, req.SourceSystem)
}

// RemoveAlias detaches an alias from its identity.
func (s *Service) RemoveAlias(ctx context.Context, identityID, aliasID uuid.UUID) error {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}

	if err := s.store.RemoveAlias(ctx, identityID, aliasID); err != nil {
		return err
	}

	// Invalidate under the pre-removal alias set so the detached alias
	// stops resolving.
	staleView, verr := s.view(ctx, identity)
	if verr == nil {
		s.cache.Drop(ctx, staleView)
	}

	refreshed, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	view, err := s.view(ctx, refreshed)
	if err != nil {
		return err
	}
	s.notifier.Publish(ctx, EventAliasRemoved, view)
	return nil
}

// GetByExternalIdentifier resolves an identity by its EMPI number.
func (s *Service) GetByExternalIdentifier(ctx context.Context, number string) (models.IdentityView, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return models.IdentityView{}, fmt.Errorf("%w: external identifier required", ErrInvalidInput)
	}

	if view, ok := s.cache.GetByNumber(ctx, number); ok {
		return view, nil
	}

	identity, err := s.store.FindByEMPINumber(ctx, number)
	if err != nil {
		return models.IdentityView{}, err
	}
	view, err := s.view(ctx, identity)
	if err != nil {
		return models.IdentityView{}, err
	}
	s.cache.Put(ctx, view)
	return view, nil
}

// GetByPatientReference resolves an identity by its source-system
// patient reference.
func (s *Service) GetByPatientReference(ctx context.Context, ref string) (models.IdentityView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.IdentityView{}, fmt.Errorf("%w: patient reference required", ErrInvalidInput)
	}
	identity, err := s.store.FindByPatientReference(ctx, ref)
	if err != nil {
		return models.IdentityView{}, err
	}
	return s.view(ctx, identity)
}

// Deactivate retires an identity without consolidation. The transition
// is terminal; a MERGED identity cannot be deactivated. Repeated calls
// are a no-op.
func (s *Service) Deactivate(ctx context.Context, identityID uuid.UUID) error {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Status == StatusInactive {
		return nil
	}
	if identity.Status != StatusActive {
		return ErrIdentityNotActive
	}

	if err := s.store.UpdateStatus(ctx, identityID, StatusActive, StatusInactive, false); err != nil {
		return err
	}

	view, verr := s.view(ctx, identity)
	if verr == nil {
		s.cache.Drop(ctx, view)
		view.Status = string(StatusInactive)
		view.Active = false
		s.notifier.Publish(ctx, EventIdentityDeactivated, view)
	}
	return nil
}

// view builds the public projection, resolving the merged-into pointer
// from the audit trail for retired identities.
func (s *Service) view(ctx context.Context, identity *MasterIdentity) (models.IdentityView, error) {
	var mergedInto *uuid.UUID
	if identity.Status == StatusMerged {
		event, err := s.store.LatestMergeFor(ctx, identity.ID)
		if err != nil {
			return models.IdentityView{}, err
		}
		if event != nil {
			mergedInto = &event.PrimaryID
		}
	}
	return mapIdentity(*identity, mergedInto), nil
}

func ownsAlias(identity *MasterIdentity, aliasType, normalizedValue string) bool {
	for _, alias := range identity.Aliases {
		if alias.Type == aliasType && alias.NormalizedValue == normalizedValue {
			return true
		}
	}
	return false
}
