package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	id        string
	body      []byte
	receives  int
	sentAt    time.Time
	visibleAt time.Time
	inFlight  bool
}

// MemoryQueue is the in-process queue used by the standalone binary and tests.
// Its dead-letter queue is another MemoryQueue without a DLQ of its own.
type MemoryQueue struct {
	name   string
	policy Policy
	dlq    *MemoryQueue
	now    func() time.Time

	mu      sync.Mutex
	ready   []string
	entries map[string]*memEntry
}

type MemoryOption func(*MemoryQueue)

// WithMemoryClock replaces time.Now, letting tests expire visibility timeouts.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

func NewMemoryQueue(name string, policy Policy, opts ...MemoryOption) *MemoryQueue {
	q := newMemoryQueue(name, policy)
	for _, opt := range opts {
		opt(q)
	}
	q.dlq = newMemoryQueue(DLQName(name), policy)
	q.dlq.now = q.now
	return q
}

func newMemoryQueue(name string, policy Policy) *MemoryQueue {
	return &MemoryQueue{
		name:    name,
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*memEntry),
	}
}

func (q *MemoryQueue) Name() string { return q.name }

// DLQ exposes the dead-letter queue for inspection.
func (q *MemoryQueue) DLQ() *MemoryQueue { return q.dlq }

func (q *MemoryQueue) Send(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(id, body, q.now())
	return id, nil
}

func (q *MemoryQueue) enqueueLocked(id string, body []byte, sentAt time.Time) {
	cp := make([]byte, len(body))
	copy(cp, body)
	q.entries[id] = &memEntry{id: id, body: cp, sentAt: sentAt}
	q.ready = append(q.ready, id)
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 || max > MaxBatch {
		max = MaxBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reclaimLocked(now)

	var out []Message
	for len(out) < max && len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]

		e, ok := q.entries[id]
		if !ok {
			continue
		}
		if q.expiredLocked(e, now) {
			delete(q.entries, id)
			continue
		}

		e.receives++
		e.inFlight = true
		e.visibleAt = now.Add(q.policy.VisibilityTimeout)

		out = append(out, Message{
			ID:            e.id,
			Body:          append([]byte(nil), e.body...),
			ReceiptHandle: receiptFor(e.id, e.receives),
			ReceiveCount:  e.receives,
			SentAt:        e.sentAt,
		})
	}
	return out, nil
}

func (q *MemoryQueue) expiredLocked(e *memEntry, now time.Time) bool {
	return q.policy.Retention > 0 && !now.Before(e.sentAt.Add(q.policy.Retention))
}

// reclaimLocked releases in-flight entries whose visibility timed out.
func (q *MemoryQueue) reclaimLocked(now time.Time) int {
	var expired []*memEntry
	for _, e := range q.entries {
		if e.inFlight && !now.Before(e.visibleAt) {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].sentAt.Before(expired[j].sentAt) })

	for _, e := range expired {
		q.releaseLocked(e)
	}
	return len(expired)
}

func (q *MemoryQueue) releaseLocked(e *memEntry) {
	e.inFlight = false
	if q.dlq != nil && e.receives >= q.policy.MaxReceives {
		q.deadLetterLocked(e)
		return
	}
	q.ready = append(q.ready, e.id)
}

func (q *MemoryQueue) deadLetterLocked(e *memEntry) {
	delete(q.entries, e.id)
	if q.dlq == nil {
		return
	}
	q.dlq.mu.Lock()
	q.dlq.enqueueLocked(e.id, e.body, e.sentAt)
	q.dlq.mu.Unlock()
	q.policy.deadLettered(q.name, 1)
}

func (q *MemoryQueue) inFlightLocked(receipt string) (*memEntry, error) {
	id, n, err := parseReceipt(receipt)
	if err != nil {
		return nil, err
	}
	e, ok := q.entries[id]
	if !ok || !e.inFlight || e.receives != n {
		return nil, ErrReceiptInvalid
	}
	return e, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inFlightLocked(receipt)
	if err != nil {
		return err
	}
	delete(q.entries, e.id)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inFlightLocked(receipt)
	if err != nil {
		return err
	}
	q.releaseLocked(e)
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inFlightLocked(receipt)
	if err != nil {
		return err
	}
	q.deadLetterLocked(e)
	return nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := q.reclaimLocked(now)

	kept := q.ready[:0]
	for _, id := range q.ready {
		if e, ok := q.entries[id]; ok && q.expiredLocked(e, now) {
			delete(q.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	q.ready = kept
	return n, nil
}

func (q *MemoryQueue) Redrive(ctx context.Context, max int) (int, error) {
	if q.dlq == nil {
		return 0, nil
	}

	q.dlq.mu.Lock()
	var moved []*memEntry
	for len(moved) < max && len(q.dlq.ready) > 0 {
		id := q.dlq.ready[0]
		q.dlq.ready = q.dlq.ready[1:]
		if e, ok := q.dlq.entries[id]; ok {
			delete(q.dlq.entries, id)
			moved = append(moved, e)
		}
	}
	q.dlq.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, e := range moved {
		q.enqueueLocked(e.id, e.body, now)
	}
	return len(moved), nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (Depth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var d Depth
	for _, e := range q.entries {
		if e.inFlight {
			d.InFlight++
		} else {
			d.Ready++
		}
	}
	return d, nil
}
