package empi

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
)

// ExistsFunc reports whether a candidate EMPI number is already
// assigned.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Generator produces globally unique EMPI numbers: a fixed prefix plus
// a fixed-width random numeric suffix, existence-checked against the
// store. The check-then-use pair is not atomic; callers that persist
// the number must tolerate a losing race by asking for a fresh one.
type Generator struct {
	prefix      string
	suffixLen   int
	maxAttempts int
	exists      ExistsFunc
}

func NewGenerator(prefix string, suffixLen, maxAttempts int, exists ExistsFunc) *Generator {
	if suffixLen <= 0 {
		suffixLen = 8
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Generator{
		prefix:      prefix,
		suffixLen:   suffixLen,
		maxAttempts: maxAttempts,
		exists:      exists,
	}
}

// Generate returns an EMPI number not currently assigned, or
// ErrIdentifierExhausted if every candidate collided. Exhaustion means
// a systemic fault (or exhausted number space), not bad client input.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(g.suffixLen)), nil)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, space)
		if err != nil {
			return "", fmt.Errorf("failed to draw random suffix: %w", err)
		}
		candidate := fmt.Sprintf("%s%0*d", g.prefix, g.suffixLen, n)

		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}

		metrics.IncIdentifierRetry()
		logger.Log.WithFields(map[string]interface{}{
			"candidate": candidate,
			"attempt":   attempt,
		}).Warn("EMPI number candidate collided, retrying")
	}

	metrics.IncIdentifierExhausted()
	return "", ErrIdentifierExhausted
}
