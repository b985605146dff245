package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is the padding unit for hot counters. 64 fits most CPUs.
const CacheLineSize = 64

// Counter is an atomic int64 occupying a full cache line, so per-shard
// counters updated by different goroutines do not share a line.
type Counter struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Compile-time check that Counter is exactly one cache line.
var _ [CacheLineSize - int(unsafe.Sizeof(Counter{}))]byte
