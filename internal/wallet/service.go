package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/ledger"
)

var (
	// ErrNotFound indicates the wallet is absent, or hidden from the caller on
	// a read path.
	ErrNotFound = errors.New("wallet not found")

	// ErrForbidden indicates the wallet exists but the caller may not mutate
	// it: wrong owner or soft-deleted.
	ErrForbidden = errors.New("wallet is not accessible")

	// ErrInvalidInput indicates missing required fields or an empty update.
	ErrInvalidInput = errors.New("invalid wallet input")
)

// Service manages wallet lifecycle: creation, metadata edits, soft delete and
// listing. It never writes the balance; that is the mutation service's job.
type Service struct {
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// CreateInput captures the data required to create a wallet.
type CreateInput struct {
	OwnerID string
	Name    string
	Color   string
	Icon    string
}

// Create provisions a wallet with a zero balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Wallet, error) {
	if input.Name == "" || input.Color == "" || input.Icon == "" {
		return ledger.Wallet{}, fmt.Errorf("%w: name, color and icon are required", ErrInvalidInput)
	}
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return ledger.Wallet{}, fmt.Errorf("%w: bad owner id", ErrInvalidInput)
	}

	w := ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Name:      input.Name,
		Balance:   decimal.Zero,
		Color:     input.Color,
		Icon:      input.Icon,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return ledger.Wallet{}, err
	}
	return w, nil
}

// Get retrieves a wallet for its owner. Read path: absent, soft-deleted and
// foreign wallets all surface as not found.
func (s *Service) Get(ctx context.Context, id, callerID string) (ledger.Wallet, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, ErrNotFound
		}
		return ledger.Wallet{}, err
	}
	if w.OwnerID != callerID || w.Deleted {
		return ledger.Wallet{}, ErrNotFound
	}
	return w, nil
}

// Update edits the wallet's metadata. The balance is untouchable here.
func (s *Service) Update(ctx context.Context, id, callerID string, update ledger.MetaUpdate) (ledger.Wallet, error) {
	if update.Empty() {
		return ledger.Wallet{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	return s.mutate(ctx, id, callerID, func(g ledger.Group) (ledger.Wallet, error) {
		return g.UpdateMeta(ctx, id, update)
	})
}

// SoftDelete hides the wallet without erasing it or its transactions.
func (s *Service) SoftDelete(ctx context.Context, id, callerID string) (ledger.Wallet, error) {
	return s.mutate(ctx, id, callerID, func(g ledger.Group) (ledger.Wallet, error) {
		return g.SoftDelete(ctx, id)
	})
}

// List returns the owner's wallets, excluding soft-deleted ones.
func (s *Service) List(ctx context.Context, ownerID string) ([]ledger.Wallet, error) {
	return s.store.ListWallets(ctx, ownerID)
}

// mutate runs a wallet write inside a commit group so the ownership check and
// the write sit under one lock. Mutation-path policy: absent wallets are not
// found, foreign or soft-deleted wallets are forbidden.
func (s *Service) mutate(ctx context.Context, id, callerID string, write func(ledger.Group) (ledger.Wallet, error)) (ledger.Wallet, error) {
	group, err := s.store.Begin(ctx)
	if err != nil {
		return ledger.Wallet{}, err
	}

	w, err := s.mutateInGroup(ctx, group, id, callerID, write)
	if err != nil {
		if rbErr := group.Commit(ctx, false); rbErr != nil {
			return ledger.Wallet{}, rbErr
		}
		return ledger.Wallet{}, err
	}
	if err := group.Commit(ctx, true); err != nil {
		return ledger.Wallet{}, err
	}
	return w, nil
}

func (s *Service) mutateInGroup(ctx context.Context, group ledger.Group, id, callerID string, write func(ledger.Group) (ledger.Wallet, error)) (ledger.Wallet, error) {
	locked, err := group.LockWallet(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, ErrNotFound
		}
		return ledger.Wallet{}, err
	}
	if locked.OwnerID != callerID || locked.Deleted {
		return ledger.Wallet{}, ErrForbidden
	}
	return write(group)
}
