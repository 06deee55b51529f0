// Package stream fans committed ledger entries out to live subscribers of
// the account they belong to.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/ledger"
)

// Event is the wire form of a committed entry as pushed to subscribers.
type Event struct {
	AccountID     int64           `json:"account_id"`
	TransactionID int64           `json:"transaction_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Description   string          `json:"description"`
	Timestamp     time.Time       `json:"timestamp"`
}

type subscriber struct {
	accountID int64
	ch        chan Event
}

// Stream fans events out to subscribers (SSE clients) of one account each.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	dropped atomic.Int64
}

// New initialises an empty stream. buffer bounds how many events a slow
// subscriber may lag behind before further events are dropped for it.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{
		subs:   make(map[int]subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for accountID and returns a channel which
// will receive its events. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, accountID int64) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{accountID: accountID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish implements ledger.Publisher.
func (s *Stream) Publish(e ledger.Event) {
	evt := Event{
		AccountID:     e.AccountID,
		TransactionID: e.TransactionID,
		Type:          string(e.Type),
		Amount:        e.Amount,
		Balance:       e.Balance,
		Description:   e.Description,
		Timestamp:     e.At.UTC(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.accountID != evt.AccountID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking the writer.
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}
