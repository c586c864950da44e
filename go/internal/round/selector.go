package round

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"
)

// DefaultContentCount is used when a start request does not ask for a count.
const DefaultContentCount = 5

// Constraints narrow the candidate pool for a round.
type Constraints struct {
	Categories    []string `json:"categories,omitempty"`
	MaxDifficulty int      `json:"max_difficulty,omitempty"`
	Count         int      `json:"count,omitempty"`
}

// ContentCatalog lists candidate content ids.
type ContentCatalog interface {
	ListCandidates(ctx context.Context, c Constraints) ([]string, error)
}

// Select picks count ids from candidates as a pure function of seed: the
// candidates are put in canonical order and shuffled with a PCG source keyed
// on the SHA-256 of the seed. Every caller with the same inputs gets the same
// list.
func Select(seed string, count int, candidates []string) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidArgument)
	}

	pool := canonical(candidates)
	if len(pool) < count {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrNotEnoughContent, count, len(pool))
	}

	sum := sha256.Sum256([]byte(seed))
	r := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16])))
	r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	out := make([]string, count)
	copy(out, pool[:count])
	return out, nil
}

func canonical(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	pool := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		pool = append(pool, c)
	}
	sort.Strings(pool)
	return pool
}
