// Package queue provides the durable, at-least-once buffers between saga
// stages: bounded batch receive, a visibility timeout, a receive limit after
// which messages move to a dead-letter queue, and a retention window.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrReceiptInvalid = errors.New("receipt handle is stale or unknown")

// MaxBatch is the largest batch a single receive returns.
const MaxBatch = 10

type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
	SentAt        time.Time
}

type Policy struct {
	VisibilityTimeout time.Duration
	MaxReceives       int
	Retention         time.Duration

	// OnDeadLetter, when set, is told every time messages land in the DLQ,
	// whether by an explicit DeadLetter, a final Nack or an expired visibility.
	OnDeadLetter func(queue string, n int)
}

func (p Policy) deadLettered(queue string, n int) {
	if n > 0 && p.OnDeadLetter != nil {
		p.OnDeadLetter(queue, n)
	}
}

func DefaultPolicy() Policy {
	return Policy{
		VisibilityTimeout: 180 * time.Second,
		MaxReceives:       3,
		Retention:         14 * 24 * time.Hour,
	}
}

type Depth struct {
	Ready    int
	InFlight int
}

// Sender is the write side used by the router and the event bus.
type Sender interface {
	Send(ctx context.Context, body []byte) (string, error)
}

type Queue interface {
	Sender
	Name() string

	// Receive hides up to max messages for the visibility timeout and bumps
	// their receive count.
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, receipt string) error
	// Nack makes the message visible again, or dead-letters it once the
	// receive limit is reached.
	Nack(ctx context.Context, receipt string) error
	DeadLetter(ctx context.Context, receipt string) error

	// Reclaim returns in-flight messages whose visibility expired to the ready
	// list (or the DLQ) and drops ready messages past retention.
	Reclaim(ctx context.Context) (int, error)
	// Redrive moves up to max messages from the dead-letter queue back.
	Redrive(ctx context.Context, max int) (int, error)
	Depth(ctx context.Context) (Depth, error)
}

func receiptFor(id string, receives int) string {
	return id + ":" + strconv.Itoa(receives)
}

func parseReceipt(receipt string) (string, int, error) {
	idx := strings.LastIndexByte(receipt, ':')
	if idx <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrReceiptInvalid, receipt)
	}
	n, err := strconv.Atoi(receipt[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrReceiptInvalid, receipt)
	}
	return receipt[:idx], n, nil
}

func DLQName(name string) string { return name + "-dlq" }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix. The consumer
// dead-letters such messages immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
