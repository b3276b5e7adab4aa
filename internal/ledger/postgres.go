package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, owner_id, name, balance, color, icon, created_at, is_deleted`
const entryColumns = `id, wallet_id, direction, amount, description, ts, resulting_balance`

// PostgresStore persists wallets and transactions in PostgreSQL. Commit groups
// map onto database transactions; LockWallet issues SELECT ... FOR UPDATE so
// concurrent groups touching the same wallet serialize on the row lock.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the wallet and transaction tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
            id UUID PRIMARY KEY,
            owner_id UUID NOT NULL,
            name TEXT NOT NULL,
            balance NUMERIC(20,4) NOT NULL DEFAULT 0,
            color TEXT NOT NULL DEFAULT '',
            icon TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_wallets_owner ON wallets (owner_id) WHERE NOT is_deleted`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id UUID PRIMARY KEY,
            wallet_id UUID NOT NULL REFERENCES wallets (id),
            direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
            amount NUMERIC(20,4) NOT NULL CHECK (amount >= 0),
            description TEXT NOT NULL DEFAULT '',
            ts TIMESTAMPTZ NOT NULL,
            resulting_balance NUMERIC(20,4) NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_wallet_ts ON transactions (wallet_id, ts, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

// CreateWallet inserts a wallet document.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(w.OwnerID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		walletID, ownerID, w.Name, w.Balance, w.Color, w.Icon, w.CreatedAt.UTC(), w.Deleted)
	return err
}

// GetWallet fetches a wallet by id, including soft-deleted ones.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	return scanWallet(row)
}

// ListWallets returns the owner's wallets excluding soft-deleted ones.
func (s *PostgresStore) ListWallets(ctx context.Context, ownerID string) ([]Wallet, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_id = $1 AND NOT is_deleted ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// GetEntry fetches a transaction document by id. Entries stay reachable after
// their wallet is soft-deleted.
func (s *PostgresStore) GetEntry(ctx context.Context, id string) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM transactions WHERE id = $1`, entryID)
	return scanEntry(row)
}

// ListEntries returns the wallet's entries in the order they were applied.
func (s *PostgresStore) ListEntries(ctx context.Context, walletID string) ([]Entry, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM transactions
        WHERE wallet_id = $1 ORDER BY ts, id`, wid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Begin opens a commit group backed by a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Group, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin commit group: %w", err)
	}
	return &pgGroup{tx: tx}, nil
}

type pgGroup struct {
	tx   pgx.Tx
	done bool
}

func (g *pgGroup) LockWallet(ctx context.Context, id string) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := g.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	return scanWallet(row)
}

func (g *pgGroup) AppendEntry(ctx context.Context, e Entry) error {
	if g.done {
		return ErrGroupClosed
	}
	entryID, err := uuid.Parse(e.ID)
	if err != nil {
		return err
	}
	walletID, err := uuid.Parse(e.WalletID)
	if err != nil {
		return err
	}
	_, err = g.tx.Exec(ctx, `INSERT INTO transactions (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entryID, walletID, string(e.Direction), e.Amount, e.Description, e.Timestamp.UTC(), e.ResultingBalance)
	return err
}

func (g *pgGroup) SetBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	if g.done {
		return ErrGroupClosed
	}
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := g.tx.Exec(ctx, `UPDATE wallets SET balance = $2 WHERE id = $1`, wid, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMeta edits name/color/icon inside the group. The balance column is
// deliberately absent from the statement.
func (g *pgGroup) UpdateMeta(ctx context.Context, walletID string, update MetaUpdate) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := g.tx.QueryRow(ctx, `UPDATE wallets
        SET name = COALESCE($2, name), color = COALESCE($3, color), icon = COALESCE($4, icon)
        WHERE id = $1
        RETURNING `+walletColumns, wid, update.Name, update.Color, update.Icon)
	return scanWallet(row)
}

// SoftDelete flags the wallet as deleted without erasing the document.
func (g *pgGroup) SoftDelete(ctx context.Context, walletID string) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := g.tx.QueryRow(ctx, `UPDATE wallets SET is_deleted = TRUE WHERE id = $1
        RETURNING `+walletColumns, wid)
	return scanWallet(row)
}

func (g *pgGroup) Commit(ctx context.Context, success bool) error {
	if g.done {
		return ErrGroupClosed
	}
	g.done = true
	if !success {
		return g.tx.Rollback(ctx)
	}
	return g.tx.Commit(ctx)
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		id        uuid.UUID
		ownerID   uuid.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &ownerID, &w.Name, &w.Balance, &w.Color, &w.Icon, &createdAt, &w.Deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = ownerID.String()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		id        uuid.UUID
		walletID  uuid.UUID
		direction string
		ts        time.Time
	)
	if err := row.Scan(&id, &walletID, &direction, &e.Amount, &e.Description, &ts, &e.ResultingBalance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.ID = id.String()
	e.WalletID = walletID.String()
	e.Direction = Direction(direction)
	e.Timestamp = ts.UTC()
	return e, nil
}
