package ledger

import (
	"context"
	"fmt"
	"sync"
)

// SandboxMover settles transfers in memory. Like a real rail it returns the
// original receipt when an idempotency key is replayed. Failures can be
// queued with FailNext for exercising retry paths.
type SandboxMover struct {
	channel Channel

	mu        sync.Mutex
	seq       int
	byKey     map[string]Receipt
	transfers []Transfer
	failures  []error
}

// NewSandboxMover creates a sandbox mover for channel
func NewSandboxMover(channel Channel) *SandboxMover {
	return &SandboxMover{channel: channel, byKey: make(map[string]Receipt)}
}

func (m *SandboxMover) Channel() Channel { return m.channel }

// FailNext queues errors returned by the next len(errs) calls
func (m *SandboxMover) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *SandboxMover) Execute(ctx context.Context, t Transfer) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return Receipt{}, err
	}

	if r, ok := m.byKey[t.IdempotencyKey]; ok && t.IdempotencyKey != "" {
		return r, nil
	}

	m.seq++
	r := Receipt{Ref: fmt.Sprintf("sbx-%s-%06d", m.channel, m.seq), Channel: m.channel}
	m.byKey[t.IdempotencyKey] = r
	m.transfers = append(m.transfers, t)
	return r, nil
}

// Transfers returns the distinct transfers settled so far
func (m *SandboxMover) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}
