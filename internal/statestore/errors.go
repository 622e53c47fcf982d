package statestore

import "errors"

var (
	// ErrCorrupt indicates stored data that does not decode.
	ErrCorrupt = errors.New("statestore: corrupt data")
	// ErrNotEmpty is returned when importing a journal into a store that
	// already holds committed state.
	ErrNotEmpty = errors.New("statestore: store is not empty")
	// ErrDigestMismatch indicates the journal does not reproduce the stored state.
	ErrDigestMismatch = errors.New("statestore: state digest mismatch")
)
