package intake

import (
	"context"
	"strings"
	"sync"
)

// Ledger remembers which (role, content) pairs were already emitted in the
// current call. Admit is the atomic check-and-record used by the pipeline;
// Seen and Record are exposed separately for callers that need them.
type Ledger interface {
	Seen(ctx context.Context, role Role, text string) (bool, error)
	Record(ctx context.Context, role Role, text string) error
	Admit(ctx context.Context, role Role, text string) (bool, error)
	Reset(ctx context.Context) error
}

// Fingerprint is the dedup key for an utterance. Content is trimmed so that
// partial and final transcripts differing only in padding collapse together.
func Fingerprint(role Role, text string) string {
	return string(role) + ":" + strings.TrimSpace(text)
}

// MemoryLedger is an in-process Ledger for a single session.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Seen(_ context.Context, role Role, text string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[Fingerprint(role, text)]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, role Role, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[Fingerprint(role, text)] = struct{}{}
	return nil
}

// Admit records the fingerprint and reports true only if it was new.
func (l *MemoryLedger) Admit(_ context.Context, role Role, text string) (bool, error) {
	key := Fingerprint(role, text)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[string]struct{})
	return nil
}

// Len returns the number of recorded fingerprints.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
