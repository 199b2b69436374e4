package empi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/DevFaso/hms-sub003/pkg/authority"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/google/uuid"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Publish(ctx context.Context, kind string, identity models.IdentityView) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func newTestService(store Store) (*Service, *recordingNotifier) {
	notifier := &recordingNotifier{}
	gen := NewGenerator("EMPI", 8, 5, store.EMPINumberExists)
	svc := NewService(store, gen, notifier, nil, authority.DefaultCatalog())
	return svc, notifier
}

func TestLinkCreatesIdentityWithAlias(t *testing.T) {
	store := NewMemoryStore()
	svc, notifier := newTestService(store)

	view, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1",
		AliasType:        "MRN",
		AliasValue:       "  MRN-123 ",
		SourceSystem:     "registration",
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if !strings.HasPrefix(view.EMPINumber, "EMPI") {
		t.Fatalf("expected generated EMPI number, got %q", view.EMPINumber)
	}
	if view.Status != string(StatusActive) || !view.Active {
		t.Fatalf("expected active identity, got %+v", view)
	}
	if len(view.Aliases) != 1 {
		t.Fatalf("expected one alias, got %d", len(view.Aliases))
	}
	if view.Aliases[0].Value != "MRN-123" {
		t.Fatalf("expected trimmed alias value, got %q", view.Aliases[0].Value)
	}
	if len(notifier.kinds) != 1 || notifier.kinds[0] != EventIdentityCreated {
		t.Fatalf("expected one created event, got %v", notifier.kinds)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	req := models.LinkRequest{PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123"}
	first, err := svc.LinkIdentity(context.Background(), req)
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	savesAfterFirst := store.saves

	second, err := svc.LinkIdentity(context.Background(), req)
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same identity, got %s then %s", first.ID, second.ID)
	}
	if store.saves != savesAfterFirst {
		t.Fatalf("expected no write on repeat link, saves went %d -> %d", savesAfterFirst, store.saves)
	}
}

func TestLinkIdempotentWithDifferentCase(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	first, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	second, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "MRN", AliasValue: " MRN-123 ",
	})
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected case-insensitive alias match to reuse identity")
	}
}

func TestLinkRejectsAliasClaimedElsewhere(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	if _, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	}); err != nil {
		t.Fatalf("seed link failed: %v", err)
	}

	_, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-2", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if !errors.Is(err, ErrAliasConflict) {
		t.Fatalf("expected ErrAliasConflict, got %v", err)
	}
	if _, err := store.FindByPatientReference(context.Background(), "patient-2"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatal("expected no identity created for the losing patient")
	}
}

func TestLinkRejectsOrphanedAlias(t *testing.T) {
	store := NewMemoryStore()
	store.orphans = append(store.orphans, IdentityAlias{
		ID: uuid.New(), Type: "mrn", Value: "mrn-999", NormalizedValue: "mrn-999",
	})
	svc, _ := newTestService(store)

	_, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-999",
	})
	if !errors.Is(err, ErrOrphanedAlias) {
		t.Fatalf("expected ErrOrphanedAlias, got %v", err)
	}
}

func TestLinkAttachesNewAliasToExistingIdentity(t *testing.T) {
	store := NewMemoryStore()
	svc, notifier := newTestService(store)

	first, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	second, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "national-id", AliasValue: "ni-42",
	})
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected alias to attach to the existing identity")
	}
	if len(second.Aliases) != 2 {
		t.Fatalf("expected two aliases, got %d", len(second.Aliases))
	}
	if notifier.kinds[len(notifier.kinds)-1] != EventAliasAdded {
		t.Fatalf("expected alias_added event, got %v", notifier.kinds)
	}
}

func TestLinkValidatesInput(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	if _, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank reference, got %v", err)
	}
	if _, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "unknown-kind", AliasValue: "x",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown alias type, got %v", err)
	}
	if _, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for alias type without value, got %v", err)
	}
}

func TestLinkExhaustsIdentifierSpace(t *testing.T) {
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		return true, nil
	})
	svc := NewService(store, gen, notifier, nil, authority.DefaultCatalog())

	_, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
	if !errors.Is(err, ErrIdentifierExhausted) {
		t.Fatalf("expected ErrIdentifierExhausted, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no partial write, got %d saves", store.saves)
	}
	if len(notifier.kinds) != 0 {
		t.Fatalf("expected no events, got %v", notifier.kinds)
	}
}

// contendedStore loses the first create attempts on purpose: it
// persists the configured winners as the concurrent writer would have,
// then returns the constraint signal the repository maps for that
// race.
type contendedStore struct {
	*MemoryStore
	failures int
	signal   error
	winners  []*MasterIdentity
	creates  int
}

func (s *contendedStore) CreateIdentity(ctx context.Context, identity *MasterIdentity) error {
	s.creates++
	if s.failures > 0 {
		s.failures--
		for _, winner := range s.winners {
			if err := s.MemoryStore.CreateIdentity(ctx, winner); err != nil {
				return err
			}
		}
		s.winners = nil
		return s.signal
	}
	return s.MemoryStore.CreateIdentity(ctx, identity)
}

func TestLinkRetriesAfterLosingEMPINumberRace(t *testing.T) {
	store := &contendedStore{MemoryStore: NewMemoryStore(), failures: 1, signal: errEMPINumberTaken}
	svc, _ := newTestService(store)

	view, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
	if err != nil {
		t.Fatalf("expected fresh candidate after lost race, got %v", err)
	}
	if store.creates != 2 {
		t.Fatalf("expected one retry after the lost insert, got %d creates", store.creates)
	}
	if !strings.HasPrefix(view.EMPINumber, "EMPI") {
		t.Fatalf("expected generated EMPI number, got %q", view.EMPINumber)
	}
}

func TestLinkGivesUpAfterRepeatedEMPINumberRaces(t *testing.T) {
	store := &contendedStore{MemoryStore: NewMemoryStore(), failures: linkCreateAttempts, signal: errEMPINumberTaken}
	svc, _ := newTestService(store)

	_, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
	if !errors.Is(err, ErrIdentifierExhausted) {
		t.Fatalf("expected ErrIdentifierExhausted, got %v", err)
	}
	if store.creates != linkCreateAttempts {
		t.Fatalf("expected %d bounded attempts, got %d", linkCreateAttempts, store.creates)
	}
	if _, err := store.FindByPatientReference(context.Background(), "patient-1"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatal("expected no partial identity after exhausted retries")
	}
}

func TestLinkRaceLoserAttachesUnclaimedAliasToWinner(t *testing.T) {
	winner := &MasterIdentity{
		EMPINumber:       "EMPI10000001",
		PatientReference: "patient-1",
		Status:           StatusActive,
		Active:           true,
	}
	store := &contendedStore{
		MemoryStore: NewMemoryStore(),
		failures:    1,
		signal:      errPatientRefTaken,
		winners:     []*MasterIdentity{winner},
	}
	svc, _ := newTestService(store)

	view, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("race loser failed to resolve against winner: %v", err)
	}
	if view.ID != winner.ID {
		t.Fatalf("expected winner identity %s, got %s", winner.ID, view.ID)
	}
	if len(view.Aliases) != 1 || view.Aliases[0].Value != "mrn-123" {
		t.Fatalf("expected unclaimed alias attached to winner, got %+v", view.Aliases)
	}
}

func TestLinkRaceLoserConflictsOnAliasClaimedElsewhere(t *testing.T) {
	winner := &MasterIdentity{
		EMPINumber:       "EMPI10000001",
		PatientReference: "patient-1",
		Status:           StatusActive,
		Active:           true,
	}
	other := &MasterIdentity{
		EMPINumber:       "EMPI10000002",
		PatientReference: "patient-3",
		Status:           StatusActive,
		Active:           true,
		Aliases: []IdentityAlias{{
			Type: "mrn", Value: "mrn-123", NormalizedValue: "mrn-123",
		}},
	}
	store := &contendedStore{
		MemoryStore: NewMemoryStore(),
		failures:    1,
		signal:      errPatientRefTaken,
		winners:     []*MasterIdentity{winner, other},
	}
	svc, _ := newTestService(store)

	_, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if !errors.Is(err, ErrAliasConflict) {
		t.Fatalf("expected ErrAliasConflict for alias claimed by a third identity, got %v", err)
	}
}

func TestConcurrentLinksSameReferenceConverge(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	const workers = 8
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
			if err != nil {
				errs <- err
				return
			}
			ids <- view.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent link failed: %v", err)
	}
	first := uuid.Nil
	for id := range ids {
		if first == uuid.Nil {
			first = id
			continue
		}
		if id != first {
			t.Fatalf("concurrent links diverged: %s vs %s", first, id)
		}
	}
	if len(store.identities) != 1 {
		t.Fatalf("expected a single identity, got %d", len(store.identities))
	}
}

func TestConcurrentLinksProduceDistinctIdentifiers(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	const workers = 32
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			view, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
				PatientReference: fmt.Sprintf("patient-%d", n),
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- view.EMPINumber
		}(i)
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent link failed: %v", err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("EMPI number %q assigned twice", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct identifiers, got %d", workers, len(seen))
	}
}

func TestFindIdentityByAliasNormalizesInput(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	created, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	view, found, err := svc.FindIdentityByAlias(context.Background(), " MRN ", " MRN-123 ")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found || view.ID != created.ID {
		t.Fatalf("expected to find identity %s, got found=%v id=%s", created.ID, found, view.ID)
	}
}

func TestFindIdentityByAliasBlankShortCircuits(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	_, found, err := svc.FindIdentityByAlias(context.Background(), "", "mrn-123")
	if err != nil || found {
		t.Fatalf("expected absent result, got found=%v err=%v", found, err)
	}
	_, found, err = svc.FindIdentityByAlias(context.Background(), "mrn", "   ")
	if err != nil || found {
		t.Fatalf("expected absent result, got found=%v err=%v", found, err)
	}
	if store.aliasLookups != 0 {
		t.Fatalf("expected no index lookups for blank input, got %d", store.aliasLookups)
	}
}

func TestAddAliasRejectsDuplicatePair(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	created, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	// Duplicate against the same identity is rejected too.
	_, err = svc.AddAlias(context.Background(), created.ID, models.AliasRequest{Type: "MRN", Value: "mrn-123"})
	if !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("expected ErrDuplicateAlias, got %v", err)
	}

	other, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-2"})
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	_, err = svc.AddAlias(context.Background(), other.ID, models.AliasRequest{Type: "mrn", Value: "MRN-123"})
	if !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("expected ErrDuplicateAlias across identities, got %v", err)
	}
}

func TestAddAliasUnknownIdentity(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	_, err := svc.AddAlias(context.Background(), uuid.New(), models.AliasRequest{Type: "mrn", Value: "mrn-1"})
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestRemoveAlias(t *testing.T) {
	store := NewMemoryStore()
	svc, notifier := newTestService(store)

	created, err := svc.LinkIdentity(context.Background(), models.LinkRequest{
		PatientReference: "patient-1", AliasType: "mrn", AliasValue: "mrn-123",
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	if err := svc.RemoveAlias(context.Background(), created.ID, created.Aliases[0].ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	refreshed, err := svc.GetByExternalIdentifier(context.Background(), created.EMPINumber)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(refreshed.Aliases) != 0 {
		t.Fatalf("expected alias removed, got %d", len(refreshed.Aliases))
	}
	if notifier.kinds[len(notifier.kinds)-1] != EventAliasRemoved {
		t.Fatalf("expected alias_removed event, got %v", notifier.kinds)
	}

	if err := svc.RemoveAlias(context.Background(), created.ID, uuid.New()); !errors.Is(err, ErrAliasNotFound) {
		t.Fatalf("expected ErrAliasNotFound, got %v", err)
	}
	if err := svc.RemoveAlias(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestGetByExternalIdentifier(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(store)

	if _, err := svc.GetByExternalIdentifier(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank number, got %v", err)
	}
	if _, err := svc.GetByExternalIdentifier(context.Background(), "EMPI00000000"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}

	created, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	view, err := svc.GetByExternalIdentifier(context.Background(), created.EMPINumber)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if view.ID != created.ID {
		t.Fatalf("expected identity %s, got %s", created.ID, view.ID)
	}
}

func TestDeactivateIsTerminalAndIdempotent(t *testing.T) {
	store := NewMemoryStore()
	svc, notifier := newTestService(store)

	created, err := svc.LinkIdentity(context.Background(), models.LinkRequest{PatientReference: "patient-1"})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	if err := svc.Deactivate(context.Background(), created.ID); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	view, err := svc.GetByExternalIdentifier(context.Background(), created.EMPINumber)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if view.Status != string(StatusInactive) || view.Active {
		t.Fatalf("expected inactive identity, got %+v", view)
	}
	if notifier.kinds[len(notifier.kinds)-1] != EventIdentityDeactivated {
		t.Fatalf("expected deactivated event, got %v", notifier.kinds)
	}

	// Repeat is a no-op.
	if err := svc.Deactivate(context.Background(), created.ID); err != nil {
		t.Fatalf("repeat deactivate failed: %v", err)
	}
}
