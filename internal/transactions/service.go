package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/ledger"
)

var (
	// ErrWalletNotFound indicates the target wallet does not exist, or is
	// hidden from the caller on a read path.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrForbidden indicates the caller does not own the wallet, or the wallet
	// was soft-deleted, on a mutation path.
	ErrForbidden = errors.New("wallet is not accessible")

	// ErrInvalidPayload indicates a malformed request: unknown direction or a
	// negative amount.
	ErrInvalidPayload = errors.New("invalid transaction payload")

	// ErrApplyFailed indicates the store rejected the commit group. The group
	// is always rolled back before this error surfaces.
	ErrApplyFailed = errors.New("transaction failed")

	// ErrEntryNotFound indicates the requested entry does not exist or is not
	// visible to the caller.
	ErrEntryNotFound = errors.New("transaction not found")
)

// Service applies signed money movements to wallets. It holds no state of its
// own: every call loads the wallet, computes the new balance and commits both
// the entry and the balance update as one commit group.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewService builds the balance mutation service.
func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ApplyInput captures one requested money movement.
type ApplyInput struct {
	WalletID    string
	CallerID    string
	Direction   ledger.Direction
	Amount      decimal.Decimal
	Description string
}

// Apply records a transaction against the wallet and updates its balance,
// all-or-nothing. On success the returned entry's ResultingBalance equals the
// wallet's new live balance. On any failure the wallet and its entries are
// unchanged, as if the call never happened.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (ledger.Entry, error) {
	if !input.Direction.Valid() {
		return ledger.Entry{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidPayload, input.Direction)
	}
	if input.Amount.IsNegative() {
		return ledger.Entry{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidPayload)
	}

	w, err := s.store.GetWallet(ctx, input.WalletID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Entry{}, ErrWalletNotFound
		}
		return ledger.Entry{}, err
	}
	if w.OwnerID != input.CallerID || w.Deleted {
		return ledger.Entry{}, ErrForbidden
	}

	group, err := s.store.Begin(ctx)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	entry, err := s.applyInGroup(ctx, group, input)
	if err != nil {
		if rbErr := group.Commit(ctx, false); rbErr != nil {
			s.logger.Error("commit group rollback failed",
				slog.String("wallet_id", input.WalletID), slog.Any("error", rbErr))
		}
		return ledger.Entry{}, err
	}

	if err := group.Commit(ctx, true); err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	return entry, nil
}

// applyInGroup performs the locked read-compute-write cycle. Errors are
// returned to Apply, which owns the rollback.
func (s *Service) applyInGroup(ctx context.Context, group ledger.Group, input ApplyInput) (ledger.Entry, error) {
	locked, err := group.LockWallet(ctx, input.WalletID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Entry{}, ErrWalletNotFound
		}
		return ledger.Entry{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	// The wallet may have been soft-deleted between the authorization read
	// and taking the lock.
	if locked.OwnerID != input.CallerID || locked.Deleted {
		return ledger.Entry{}, ErrForbidden
	}

	newBalance := input.Direction.Apply(locked.Balance, input.Amount)
	entry := ledger.Entry{
		ID:               uuid.NewString(),
		WalletID:         input.WalletID,
		Direction:        input.Direction,
		Amount:           input.Amount,
		Description:      input.Description,
		Timestamp:        time.Now().UTC(),
		ResultingBalance: newBalance,
	}

	if err := group.AppendEntry(ctx, entry); err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	if err := group.SetBalance(ctx, input.WalletID, newBalance); err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	return entry, nil
}

// List returns the wallet's entries in applied order. Read path: absent,
// soft-deleted and foreign wallets are indistinguishable from one another.
func (s *Service) List(ctx context.Context, walletID, callerID string) ([]ledger.Entry, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if w.OwnerID != callerID || w.Deleted {
		return nil, ErrWalletNotFound
	}
	return s.store.ListEntries(ctx, walletID)
}

// Get fetches a single entry by id. Entries of a soft-deleted wallet remain
// fetchable; entries of a foreign wallet are masked as not found.
func (s *Service) Get(ctx context.Context, entryID, callerID string) (ledger.Entry, error) {
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Entry{}, ErrEntryNotFound
		}
		return ledger.Entry{}, err
	}
	w, err := s.store.GetWallet(ctx, e.WalletID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Entry{}, ErrEntryNotFound
		}
		return ledger.Entry{}, err
	}
	if w.OwnerID != callerID {
		return ledger.Entry{}, ErrEntryNotFound
	}
	return e, nil
}
