package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the identifiers minted by this service.
const (
	PrefixTransaction  = "TXN"
	PrefixMoneyRequest = "REQ"
	PrefixDeposit      = "DEP"
	PrefixAccount      = "ACC"
	PrefixAdjustment   = "ADJ"
)

// Allocator mints prefixed, time-ordered identifiers that are unique within
// the process and collision-resistant across processes.
type Allocator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New returns an allocator backed by crypto/rand and the wall clock.
func New() *Allocator {
	return &Allocator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewWithClock is New with an injectable clock for deterministic tests.
func NewWithClock(now func() time.Time) *Allocator {
	a := New()
	a.now = now
	return a
}

// Next returns prefix followed by a monotonic ULID.
func (a *Allocator) Next(prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(a.now()), a.entropy).String()
}
