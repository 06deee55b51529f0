package ledger

import (
	"bufio"
	"context"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/obs"
)

const (
	// DefaultMaxAttempts bounds collision retries per generated identifier.
	DefaultMaxAttempts = 10
	routingCodeDigits  = 22
	aliasWords         = 3
	// insertRetries covers unique races lost between the existence check
	// and the insert of a new account.
	insertRetries = 3
)

//go:embed words.txt
var embeddedWords string

// CodeSource produces candidate routing codes and aliases.
type CodeSource interface {
	RoutingCode() (string, error)
	Alias() (string, error)
}

// RandomCodes draws routing codes and aliases from crypto/rand.
type RandomCodes struct {
	words []string
}

// NewRandomCodes uses words as the alias dictionary, or the embedded
// dictionary when words is empty.
func NewRandomCodes(words []string) *RandomCodes {
	if len(words) == 0 {
		words = DefaultWords()
	}
	return &RandomCodes{words: words}
}

// DefaultWords returns the embedded alias dictionary.
func DefaultWords() []string {
	var words []string
	sc := bufio.NewScanner(strings.NewReader(embeddedWords))
	for sc.Scan() {
		w := strings.ToLower(strings.TrimSpace(sc.Text()))
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func (r *RandomCodes) RoutingCode() (string, error) {
	var b strings.Builder
	b.Grow(routingCodeDigits)
	for range routingCodeDigits {
		n, err := randIndex(10)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n))
	}
	return b.String(), nil
}

func (r *RandomCodes) Alias() (string, error) {
	if len(r.words) == 0 {
		return "", errors.New("alias dictionary is empty")
	}
	parts := make([]string, aliasWords)
	for i := range parts {
		n, err := randIndex(len(r.words))
		if err != nil {
			return "", err
		}
		parts[i] = r.words[n]
	}
	return strings.Join(parts, "."), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// CreateAccount provisions the single account of principal with a zero
// balance, a fresh routing code and a fresh alias.
func (s *Service) CreateAccount(ctx context.Context, principal string) (Account, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return Account{}, fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}

	var acc Account
	var err error
	for attempt := 1; attempt <= insertRetries; attempt++ {
		err = s.store.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.AccountByOwner(ctx, principal); err == nil {
				return ErrAccountExists
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			routing, err := s.uniqueCode(ctx, "routing code", s.codes.RoutingCode, tx.RoutingCodeExists)
			if err != nil {
				return err
			}
			alias, err := s.uniqueCode(ctx, "alias", s.codes.Alias, tx.AliasExists)
			if err != nil {
				return err
			}
			acc, err = tx.InsertAccount(ctx, Account{
				OwnerID:     principal,
				RoutingCode: routing,
				Alias:       alias,
				Balance:     decimal.Zero,
				CreatedAt:   s.now().UTC(),
			})
			return err
		})
		if errors.Is(err, ErrRoutingCodeInUse) || errors.Is(err, ErrAliasInUse) {
			continue
		}
		break
	}
	s.observe("create_account", err)
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// uniqueCode draws candidates from gen until exists reports a free one, up to
// the configured number of attempts.
func (s *Service) uniqueCode(ctx context.Context, kind string, gen func() (string, error), exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := gen()
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", kind, err)
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		obs.Log("warn", "identifier collision", map[string]any{
			"kind":    kind,
			"attempt": attempt,
		})
	}
	obs.Log("error", "identifier generation exhausted", map[string]any{
		"kind":     kind,
		"attempts": s.maxAttempts,
	})
	return "", fmt.Errorf("%w: no unique %s after %d attempts", ErrExhausted, kind, s.maxAttempts)
}
