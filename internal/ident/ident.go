package ident

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewSessionID returns a fresh session identifier. Session ids are
// ULIDs so they sort lexicographically by creation time.
func NewSessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewDeviceID returns a fresh device identifier.
func NewDeviceID() string {
	return uuid.New().String()
}
