package document

import (
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// KeyGenerator hands out document-unique keys.
type KeyGenerator interface {
	Next() string
}

// ULIDKeys generates lowercase ULIDs. They sort by creation time and stay
// unique within a process thanks to ulid's monotonic entropy.
type ULIDKeys struct{}

// Next returns a fresh key.
func (ULIDKeys) Next() string {
	return strings.ToLower(ulid.Make().String())
}

// SequenceKeys generates Prefix0, Prefix1, ... and is meant for tests that
// need predictable keys.
type SequenceKeys struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// NewSequenceKeys returns a generator starting at zero.
func NewSequenceKeys(prefix string) *SequenceKeys {
	return &SequenceKeys{Prefix: prefix}
}

// Next returns the next key in sequence.
func (s *SequenceKeys) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.Prefix + strconv.Itoa(s.n)
	s.n++
	return k
}

// KeyFunc adapts a function to KeyGenerator.
type KeyFunc func() string

// Next calls f.
func (f KeyFunc) Next() string { return f() }
