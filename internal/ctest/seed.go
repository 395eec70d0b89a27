package ctest

import (
	"crypto/sha256"
	"fmt"
	"testing"
)

// SeedForTest returns a 32-byte seed derived from the test name and idx,
// so that wallets created in a test are stable across runs
// but distinct across tests and indices.
func SeedForTest(t testing.TB, idx int) [32]byte {
	return sha256.Sum256(fmt.Appendf(nil, "%s/%d", t.Name(), idx))
}
