package empi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repository is the PostgreSQL-backed Store. Uniqueness of EMPI
// numbers, patient references and alias pairs is enforced by the
// unique indexes declared on the models; a 23505 from the database is
// mapped back onto the matching conflict error.
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&MasterIdentity{}, &IdentityAlias{}, &MergeEvent{})
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*MasterIdentity, error) {
	var identity MasterIdentity
	err := r.db.WithContext(ctx).Preload("Aliases").Where("id = ?", id).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *Repository) FindByPatientReference(ctx context.Context, ref string) (*MasterIdentity, error) {
	var identity MasterIdentity
	err := r.db.WithContext(ctx).Preload("Aliases").Where("patient_reference = ?", ref).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *Repository) FindByEMPINumber(ctx context.Context, number string) (*MasterIdentity, error) {
	var identity MasterIdentity
	err := r.db.WithContext(ctx).Preload("Aliases").Where("empi_number = ?", number).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *Repository) EMPINumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&MasterIdentity{}).Where("empi_number = ?", number).Count(&count).Error
	return count > 0, err
}

func (r *Repository) FindAlias(ctx context.Context, aliasType, normalizedValue string) (*IdentityAlias, error) {
	var alias IdentityAlias
	err := r.db.WithContext(ctx).
		Where("type = ? AND normalized_value = ?", aliasType, normalizedValue).
		First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAliasNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

func (r *Repository) CreateIdentity(ctx context.Context, identity *MasterIdentity) error {
	now := time.Now().UTC()
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	identity.CreatedAt = now
	identity.UpdatedAt = now
	for i := range identity.Aliases {
		if identity.Aliases[i].ID == uuid.Nil {
			identity.Aliases[i].ID = uuid.New()
		}
		identity.Aliases[i].IdentityID = identity.ID
		identity.Aliases[i].CreatedAt = now
	}

	err := r.db.WithContext(ctx).Create(identity).Error
	return mapUniqueViolation(err)
}

func (r *Repository) AddAlias(ctx context.Context, alias *IdentityAlias) error {
	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	alias.CreatedAt = time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alias).Error; err != nil {
			return mapUniqueViolation(err)
		}
		return tx.Model(&MasterIdentity{}).
			Where("id = ?", alias.IdentityID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (r *Repository) RemoveAlias(ctx context.Context, identityID, aliasID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND identity_id = ?", aliasID, identityID).
		Delete(&IdentityAlias{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAliasNotFound
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, identityID uuid.UUID, from, to Status, active bool) error {
	result := r.db.WithContext(ctx).Model(&MasterIdentity{}).
		Where("id = ? AND status = ?", identityID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"active":     active,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotActive
	}
	return nil
}

func (r *Repository) RecordMerge(ctx context.Context, event *MergeEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		result := tx.Model(&MasterIdentity{}).
			Where("id = ? AND status = ?", event.SecondaryID, StatusActive).
			Updates(map[string]interface{}{
				"status":     StatusMerged,
				"active":     false,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		// Zero rows means the secondary was merged or deactivated by a
		// concurrent caller; abort so no orphaned merge event survives.
		if result.RowsAffected == 0 {
			return ErrIdentityNotActive
		}
		return nil
	})
}

func (r *Repository) LatestMergeFor(ctx context.Context, secondaryID uuid.UUID) (*MergeEvent, error) {
	var event MergeEvent
	err := r.db.WithContext(ctx).
		Where("secondary_id = ?", secondaryID).
		Order("created_at DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// mapUniqueViolation translates a Postgres unique violation into the
// conflict error for the constraint that fired.
func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "alias"):
		return ErrDuplicateAlias
	case strings.Contains(pgErr.ConstraintName, "empi_number"):
		return errEMPINumberTaken
	case strings.Contains(pgErr.ConstraintName, "patient_reference"):
		return errPatientRefTaken
	default:
		return ErrDuplicateAlias
	}
}
