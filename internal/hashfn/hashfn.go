// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package hashfn provides the pluggable hash function shmmap's bucket table
// uses to place keys. Any implementation qualifies as long as it carries no
// process-local seed, since two processes mapping the same arena must agree
// on which bucket a key lives in without coordinating.
package hashfn

import "github.com/cespare/xxhash/v2"

// Func computes a 32-bit hash of key. Implementations must be pure and
// deterministic: the same key always hashes to the same value, in every
// process sharing an arena.
type Func func(key []byte) uint32

// XXHash is the default hash function: fast, well distributed, and
// seedless, satisfying the cross-process determinism requirement directly.
func XXHash(key []byte) uint32 {
	sum := xxhash.Sum64(key)
	return uint32(sum) ^ uint32(sum>>32)
}

// FNV1a is a dependency-free fallback; useful when a hosting program wants
// to avoid the xxhash dependency.
func FNV1a(key []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range key {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}
