package ledger

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountRange names one of the fixed half-open amount buckets.
type AmountRange string

const (
	Range0To1000       AmountRange = "RANGE_0_1000"
	Range1000To5000    AmountRange = "RANGE_1000_5000"
	Range5000To20000   AmountRange = "RANGE_5000_20000"
	Range20000To100000 AmountRange = "RANGE_20000_100000"
	RangeOver100000    AmountRange = "RANGE_OVER_100000"
)

type bucket struct {
	min, max decimal.Decimal
	open     bool // no upper bound
}

var buckets = map[AmountRange]bucket{
	Range0To1000:       {min: decimal.Zero, max: decimal.NewFromInt(1000)},
	Range1000To5000:    {min: decimal.NewFromInt(1000), max: decimal.NewFromInt(5000)},
	Range5000To20000:   {min: decimal.NewFromInt(5000), max: decimal.NewFromInt(20000)},
	Range20000To100000: {min: decimal.NewFromInt(20000), max: decimal.NewFromInt(100000)},
	RangeOver100000:    {min: decimal.NewFromInt(100000), open: true},
}

// ParseAmountRange accepts a bucket name, case-insensitively.
func ParseAmountRange(raw string) (AmountRange, error) {
	r := AmountRange(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := buckets[r]; !ok {
		return "", fmt.Errorf("%w: unknown amount range %q", ErrInvalidInput, raw)
	}
	return r, nil
}

// Contains reports whether amount falls in [min, max) of the bucket.
func (r AmountRange) Contains(amount decimal.Decimal) bool {
	b, ok := buckets[r]
	if !ok {
		return false
	}
	if amount.LessThan(b.min) {
		return false
	}
	return b.open || amount.LessThan(b.max)
}

// ActivityFilter is a conjunction of optional predicates. Zero fields match
// everything. From and To are compared as calendar dates, both inclusive.
type ActivityFilter struct {
	Type        TransactionType
	AmountRange AmountRange
	From        time.Time
	To          time.Time
	Limit       int
}

func (f ActivityFilter) predicates() []func(Transaction) bool {
	var preds []func(Transaction) bool
	if f.Type != "" {
		preds = append(preds, func(t Transaction) bool { return t.Type == f.Type })
	}
	if f.AmountRange != "" {
		preds = append(preds, func(t Transaction) bool { return f.AmountRange.Contains(t.Amount) })
	}
	if !f.From.IsZero() {
		from := civilDate(f.From)
		preds = append(preds, func(t Transaction) bool { return !civilDate(t.CreatedAt).Before(from) })
	}
	if !f.To.IsZero() {
		to := civilDate(f.To)
		preds = append(preds, func(t Transaction) bool { return !civilDate(t.CreatedAt).After(to) })
	}
	return preds
}

// Validate rejects unknown enum values and inverted date ranges.
func (f ActivityFilter) Validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, f.Type)
	}
	if f.AmountRange != "" {
		if _, ok := buckets[f.AmountRange]; !ok {
			return fmt.Errorf("%w: unknown amount range %q", ErrInvalidInput, f.AmountRange)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && civilDate(f.From).After(civilDate(f.To)) {
		return fmt.Errorf("%w: date_from is after date_to", ErrInvalidInput)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}
	return nil
}

// Match reports whether t satisfies every predicate of f.
func (f ActivityFilter) Match(t Transaction) bool {
	for _, p := range f.predicates() {
		if !p(t) {
			return false
		}
	}
	return true
}

// Apply lazily filters seq and stops after Limit matches when Limit > 0.
func (f ActivityFilter) Apply(seq iter.Seq[Transaction]) iter.Seq[Transaction] {
	preds := f.predicates()
	out := Where(seq, func(t Transaction) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}
		return true
	})
	if f.Limit > 0 {
		out = Take(out, f.Limit)
	}
	return out
}

// Where yields the elements of seq that satisfy keep.
func Where[T any](seq iter.Seq[T], keep func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range seq {
			if keep(v) && !yield(v) {
				return
			}
		}
	}
}

// Take yields at most n elements of seq.
func Take[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for v := range seq {
			if !yield(v) {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// ListActivity returns an owned account's entries, newest first, narrowed by
// filter when one is given.
func (s *Service) ListActivity(ctx context.Context, accountID int64, principal string, filter *ActivityFilter) ([]Transaction, error) {
	var f ActivityFilter
	if filter != nil {
		f = *filter
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.AccountForPrincipal(ctx, accountID, principal); err != nil {
		return nil, err
	}

	q := LogQuery{Type: f.Type}
	if f.AmountRange == "" && f.From.IsZero() && f.To.IsZero() {
		q.Limit = f.Limit
	}
	txs, err := s.store.Transactions(ctx, accountID, q)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(f.Apply(slices.Values(txs)))
	if out == nil {
		out = []Transaction{}
	}
	return out, nil
}

// GetActivity returns one entry of an owned account.
func (s *Service) GetActivity(ctx context.Context, accountID, txID int64, principal string) (Transaction, error) {
	if _, err := s.AccountForPrincipal(ctx, accountID, principal); err != nil {
		return Transaction{}, err
	}
	return s.store.Transaction(ctx, accountID, txID)
}

// Recipient is one projected TRANSFER_OUT entry.
type Recipient struct {
	Destination   string
	AccountID     int64
	Amount        decimal.Decimal
	TransferredAt time.Time
}

// RecentRecipients projects the newest limit TRANSFER_OUT entries to their
// destination tokens. Repeated recipients are not collapsed.
func (s *Service) RecentRecipients(ctx context.Context, accountID int64, principal string, limit int) ([]Recipient, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if _, err := s.AccountForPrincipal(ctx, accountID, principal); err != nil {
		return nil, err
	}
	txs, err := s.store.Transactions(ctx, accountID, LogQuery{Type: TypeTransferOut, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(txs))
	for _, t := range txs {
		dest := t.Counterparty
		if dest == "" {
			dest = recipientFromNarrative(t.Description)
		}
		out = append(out, Recipient{
			Destination:   dest,
			AccountID:     t.CounterpartyAccountID,
			Amount:        t.Amount,
			TransferredAt: t.CreatedAt,
		})
	}
	return out, nil
}
