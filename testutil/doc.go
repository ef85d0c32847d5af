// Package testutil provides testing utilities for chunkgo.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe random source and skewed access
// pattern generators for cache stress tests.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	payload := make([]byte, 64<<10)
//	rng.FillBytes(payload)
//
// # Skewed Access Patterns
//
//	// 10k reads over 256 chunks, hot head per Zipf's law
//	offsets := rng.ZipfOffsets(10_000, 256, 64<<10, 1.2)
package testutil
