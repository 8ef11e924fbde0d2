package cachestore

import "errors"

// ErrMiss is returned by Load when no entry exists for the given key.
var ErrMiss = errors.New("cachestore: entry not found")

// ErrCorrupt is returned by Load when an entry exists but could not be
// decoded. Callers should treat it the same as ErrMiss and let the next
// successful Store replace it.
var ErrCorrupt = errors.New("cachestore: entry corrupt")
