package empi

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DevFaso/hms-sub003/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func TestGeneratorProducesPrefixedFixedWidthNumbers(t *testing.T) {
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		return false, nil
	})

	number, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasPrefix(number, "EMPI") {
		t.Fatalf("expected EMPI prefix, got %q", number)
	}
	suffix := strings.TrimPrefix(number, "EMPI")
	if len(suffix) != 8 {
		t.Fatalf("expected 8-digit suffix, got %q", suffix)
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric suffix, got %q", suffix)
		}
	}
}

func TestGeneratorNumbersAreDistinct(t *testing.T) {
	assigned := map[string]bool{}
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		return assigned[number], nil
	})

	for i := 0; i < 200; i++ {
		number, err := gen.Generate(context.Background())
		if err != nil {
			t.Fatalf("generate %d failed: %v", i, err)
		}
		if assigned[number] {
			t.Fatalf("number %q assigned twice", number)
		}
		assigned[number] = true
	}
}

func TestGeneratorRetriesThenSucceeds(t *testing.T) {
	calls := 0
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		calls++
		return calls <= 2, nil
	})

	if _, err := gen.Generate(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 uniqueness checks, got %d", calls)
	}
}

func TestGeneratorExhaustsRetryBudget(t *testing.T) {
	calls := 0
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		calls++
		return true, nil
	})

	_, err := gen.Generate(context.Background())
	if !errors.Is(err, ErrIdentifierExhausted) {
		t.Fatalf("expected ErrIdentifierExhausted, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", calls)
	}
}

func TestGeneratorPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("store unavailable")
	gen := NewGenerator("EMPI", 8, 5, func(ctx context.Context, number string) (bool, error) {
		return false, storeErr
	})

	if _, err := gen.Generate(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}
