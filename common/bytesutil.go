// Package common holds the small byte-level helpers used throughout
// corestore, grounded on the copy/stopped-channel idioms that recur
// across the teacher's ethdb and eth/stagedsync packages.
package common

import "context"

// CopyBytes returns an independent copy of b. SQL driver rows and cache
// layers hand back slices backed by shared buffers; any value retained
// past the call that produced it must be copied first.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// Stopped returns ctx.Err() if ctx has been cancelled, nil otherwise,
// without blocking.
func Stopped(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
