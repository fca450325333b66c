package query

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking. Store failures abort the
// recording sequence immediately; no compensating rollback is
// attempted (see the package comment on multi-key consistency).
var (
	ErrStoreRead   = errors.New("store read failed")
	ErrStoreWrite  = errors.New("store write failed")
	ErrDeserialize = errors.New("malformed stored results")
	ErrSerialize   = errors.New("result encoding failed")
	ErrNoResults   = errors.New("no differential or snapshot results")
)

func readErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreRead, err)
}

func writeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreWrite, err)
}

// IsStoreFailure reports whether err came from the backing store
// rather than from encoding or configuration.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreRead) || errors.Is(err, ErrStoreWrite)
}
