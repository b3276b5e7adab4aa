package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the requested document does not exist in its collection.
	ErrNotFound = errors.New("document not found")

	// ErrGroupClosed indicates a commit group was used after Commit was called.
	ErrGroupClosed = errors.New("commit group already closed")
)

// Direction classifies a ledger entry as a credit or a debit.
type Direction string

const (
	// DirectionIn credits the wallet, increasing its balance.
	DirectionIn Direction = "in"
	// DirectionOut debits the wallet, decreasing its balance.
	DirectionOut Direction = "out"
)

// ParseDirection converts the wire representation into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionIn:
		return DirectionIn, nil
	case DirectionOut:
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Apply returns the balance after moving amount in this direction.
func (d Direction) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	if d == DirectionIn {
		return balance.Add(amount)
	}
	return balance.Sub(amount)
}

// Wallet is a named account holding a running monetary balance. The balance is
// only ever written through a commit group; metadata edits never touch it.
type Wallet struct {
	ID        string
	OwnerID   string
	Name      string
	Balance   decimal.Decimal
	Color     string
	Icon      string
	CreatedAt time.Time
	Deleted   bool
}

// Entry is an immutable signed money movement recorded against a wallet.
// ResultingBalance snapshots the wallet balance immediately after the entry
// was applied.
type Entry struct {
	ID               string
	WalletID         string
	Direction        Direction
	Amount           decimal.Decimal
	Description      string
	Timestamp        time.Time
	ResultingBalance decimal.Decimal
}

// Signed returns the amount with its direction applied: positive for credits,
// negative for debits.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// MetaUpdate carries the optional wallet metadata fields an owner may edit.
// Nil fields are left unchanged.
type MetaUpdate struct {
	Name  *string
	Color *string
	Icon  *string
}

// Empty reports whether the update changes nothing.
func (m MetaUpdate) Empty() bool {
	return m.Name == nil && m.Color == nil && m.Icon == nil
}

// Store is the document store holding the wallets and transactions
// collections. Reads return soft-deleted wallets as stored; visibility policy
// belongs to the services on top. Every wallet write besides creation goes
// through a Group, so a mutation can hold the row lock from the ownership
// check to the commit.
type Store interface {
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	ListWallets(ctx context.Context, ownerID string) ([]Wallet, error)

	GetEntry(ctx context.Context, id string) (Entry, error)
	ListEntries(ctx context.Context, walletID string) ([]Entry, error)

	// Begin opens a commit group: an atomic multi-document write unit.
	Begin(ctx context.Context) (Group, error)
}

// Group is an open commit group. Writes staged through it become visible only
// after Commit(ctx, true); Commit(ctx, false) discards them. LockWallet holds
// an exclusive lock on the wallet document until the group closes, so a
// load-compute-commit cycle cannot race a concurrent mutation of the same
// wallet.
type Group interface {
	LockWallet(ctx context.Context, id string) (Wallet, error)
	AppendEntry(ctx context.Context, e Entry) error
	SetBalance(ctx context.Context, walletID string, balance decimal.Decimal) error
	UpdateMeta(ctx context.Context, walletID string, update MetaUpdate) (Wallet, error)
	SoftDelete(ctx context.Context, walletID string) (Wallet, error)
	Commit(ctx context.Context, success bool) error
}
