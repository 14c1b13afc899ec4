package utils

import (
	"math/rand/v2"
	"time"
)

// NewSource returns a deterministic PCG source for the given seed. A zero seed
// is replaced by the current time.
func NewSource(seed int64) rand.Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
}
