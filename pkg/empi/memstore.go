package empi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local development and
// tests. It mirrors the repository's uniqueness semantics: writes that
// would violate the empi_number, patient_reference or alias indexes
// fail with the same errors the PostgreSQL store produces.
type MemoryStore struct {
	mu         sync.Mutex
	identities map[uuid.UUID]*MasterIdentity
	merges     []MergeEvent
	orphans    []IdentityAlias

	saves        int
	aliasLookups int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[uuid.UUID]*MasterIdentity)}
}

func (m *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*MasterIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(identity), nil
}

func (m *MemoryStore) FindByPatientReference(ctx context.Context, ref string) (*MasterIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.PatientReference == ref {
			return copyIdentity(identity), nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MemoryStore) FindByEMPINumber(ctx context.Context, number string) (*MasterIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.EMPINumber == number {
			return copyIdentity(identity), nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MemoryStore) EMPINumberExists(ctx context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.EMPINumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) FindAlias(ctx context.Context, aliasType, normalizedValue string) (*IdentityAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliasLookups++
	for i := range m.orphans {
		if m.orphans[i].Type == aliasType && m.orphans[i].NormalizedValue == normalizedValue {
			alias := m.orphans[i]
			return &alias, nil
		}
	}
	for _, identity := range m.identities {
		for _, alias := range identity.Aliases {
			if alias.Type == aliasType && alias.NormalizedValue == normalizedValue {
				found := alias
				return &found, nil
			}
		}
	}
	return nil, ErrAliasNotFound
}

func (m *MemoryStore) CreateIdentity(ctx context.Context, identity *MasterIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.identities {
		if existing.PatientReference == identity.PatientReference {
			return errPatientRefTaken
		}
		if existing.EMPINumber == identity.EMPINumber {
			return errEMPINumberTaken
		}
	}
	for i := range identity.Aliases {
		if m.aliasTakenLocked(identity.Aliases[i].Type, identity.Aliases[i].NormalizedValue) {
			return ErrDuplicateAlias
		}
	}

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

	m.identities[identity.ID] = copyIdentity(identity)
	m.saves++
	return nil
}

func (m *MemoryStore) AddAlias(ctx context.Context, alias *IdentityAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[alias.IdentityID]
	if !ok {
		return ErrIdentityNotFound
	}
	if m.aliasTakenLocked(alias.Type, alias.NormalizedValue) {
		return ErrDuplicateAlias
	}

	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	alias.CreatedAt = time.Now().UTC()
	identity.Aliases = append(identity.Aliases, *alias)
	identity.UpdatedAt = time.Now().UTC()
	m.saves++
	return nil
}

func (m *MemoryStore) RemoveAlias(ctx context.Context, identityID, aliasID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	for i := range identity.Aliases {
		if identity.Aliases[i].ID == aliasID {
			identity.Aliases = append(identity.Aliases[:i], identity.Aliases[i+1:]...)
			identity.UpdatedAt = time.Now().UTC()
			m.saves++
			return nil
		}
	}
	return ErrAliasNotFound
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, identityID uuid.UUID, from, to Status, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[identityID]
	if !ok || identity.Status != from {
		return ErrIdentityNotActive
	}
	identity.Status = to
	identity.Active = active
	identity.UpdatedAt = time.Now().UTC()
	m.saves++
	return nil
}

func (m *MemoryStore) RecordMerge(ctx context.Context, event *MergeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	secondary, ok := m.identities[event.SecondaryID]
	if !ok || secondary.Status != StatusActive {
		return ErrIdentityNotActive
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now().UTC()
	m.merges = append(m.merges, *event)

	secondary.Status = StatusMerged
	secondary.Active = false
	secondary.UpdatedAt = time.Now().UTC()
	m.saves++
	return nil
}

func (m *MemoryStore) LatestMergeFor(ctx context.Context, secondaryID uuid.UUID) (*MergeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []MergeEvent
	for _, event := range m.merges {
		if event.SecondaryID == secondaryID {
			matches = append(matches, event)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	latest := matches[0]
	return &latest, nil
}

func (m *MemoryStore) aliasTakenLocked(aliasType, normalizedValue string) bool {
	for i := range m.orphans {
		if m.orphans[i].Type == aliasType && m.orphans[i].NormalizedValue == normalizedValue {
			return true
		}
	}
	for _, identity := range m.identities {
		for _, alias := range identity.Aliases {
			if alias.Type == aliasType && alias.NormalizedValue == normalizedValue {
				return true
			}
		}
	}
	return false
}

func copyIdentity(identity *MasterIdentity) *MasterIdentity {
	clone := *identity
	clone.Aliases = append([]IdentityAlias(nil), identity.Aliases...)
	return &clone
}
