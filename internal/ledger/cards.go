package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var lastFourPattern = regexp.MustCompile(`^\d{4}$`)

// NewCard holds the attributes of a card being linked to an account.
type NewCard struct {
	LastFour   string
	HolderName string
	ExpiresOn  time.Time
	Type       CardType
	Brand      CardBrand
}

func (c NewCard) validate(now time.Time) error {
	switch {
	case !lastFourPattern.MatchString(c.LastFour):
		return fmt.Errorf("%w: last_four must be exactly 4 digits", ErrInvalidInput)
	case strings.TrimSpace(c.HolderName) == "" || len(c.HolderName) > 100:
		return fmt.Errorf("%w: holder_name is required and must be at most 100 characters", ErrInvalidInput)
	case c.ExpiresOn.IsZero() || civilDate(c.ExpiresOn).Before(civilDate(now)):
		return fmt.Errorf("%w: expires_on must be today or later", ErrInvalidInput)
	}
	switch c.Type {
	case CardDebit, CardCredit:
	default:
		return fmt.Errorf("%w: unknown card type %q", ErrInvalidInput, c.Type)
	}
	switch c.Brand {
	case BrandVisa, BrandMastercard, BrandAmex, BrandMaestro:
	default:
		return fmt.Errorf("%w: unknown card brand %q", ErrInvalidInput, c.Brand)
	}
	return nil
}

// ListCards returns every card linked to an owned account, blocked ones included.
func (s *Service) ListCards(ctx context.Context, accountID int64, principal string) ([]Card, error) {
	if _, err := s.AccountForPrincipal(ctx, accountID, principal); err != nil {
		return nil, err
	}
	return s.store.Cards(ctx, accountID)
}

func (s *Service) GetCard(ctx context.Context, accountID, cardID int64, principal string) (Card, error) {
	if _, err := s.AccountForPrincipal(ctx, accountID, principal); err != nil {
		return Card{}, err
	}
	return s.store.Card(ctx, accountID, cardID)
}

// AddCard links a new ACTIVE card to an owned account.
func (s *Service) AddCard(ctx context.Context, accountID int64, principal string, in NewCard) (Card, error) {
	in.HolderName = strings.TrimSpace(in.HolderName)
	in.Type = CardType(strings.ToUpper(string(in.Type)))
	in.Brand = CardBrand(strings.ToUpper(string(in.Brand)))
	if err := in.validate(s.now()); err != nil {
		return Card{}, err
	}

	var card Card
	err := s.store.WithTx(ctx, func(tx Tx) error {
		acc, err := tx.AccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := checkOwner(acc, principal); err != nil {
			return err
		}
		card, err = tx.InsertCard(ctx, Card{
			AccountID:  acc.ID,
			LastFour:   in.LastFour,
			HolderName: in.HolderName,
			ExpiresOn:  civilDate(in.ExpiresOn),
			Type:       in.Type,
			Brand:      in.Brand,
			Status:     CardActive,
			CreatedAt:  s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

// BlockCard is the card removal operation: the card stays on file as BLOCKED.
func (s *Service) BlockCard(ctx context.Context, accountID, cardID int64, principal string) (Card, error) {
	var card Card
	err := s.store.WithTx(ctx, func(tx Tx) error {
		acc, err := tx.AccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := checkOwner(acc, principal); err != nil {
			return err
		}
		card, err = tx.Card(ctx, acc.ID, cardID)
		if err != nil {
			return err
		}
		if err := tx.SetCardStatus(ctx, acc.ID, cardID, CardBlocked); err != nil {
			return err
		}
		card.Status = CardBlocked
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}
