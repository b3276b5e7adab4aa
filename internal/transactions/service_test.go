package transactions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/ledger"
	"github.com/budgy/budgy/internal/logging"
)

func newTestService() (*Service, ledger.Store) {
	store := ledger.NewMemory()
	return NewService(store, logging.Discard()), store
}

func seedWallet(store ledger.Store, ownerID string, balance decimal.Decimal) ledger.Wallet {
	w := ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      "Checking",
		Balance:   balance,
		Color:     "#2563eb",
		Icon:      "bank",
		CreatedAt: time.Now().UTC(),
	}
	ledger.SeedWallet(store, w)
	return w
}

func TestApplyScenario(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.Zero)

	first, err := svc.Apply(ctx, ApplyInput{
		WalletID:    w.ID,
		CallerID:    owner,
		Direction:   ledger.DirectionIn,
		Amount:      decimal.RequireFromString("500.00"),
		Description: "salary",
	})
	if err != nil {
		t.Fatalf("apply credit: %v", err)
	}
	if !first.ResultingBalance.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected resulting balance 500.00, got %s", first.ResultingBalance)
	}

	second, err := svc.Apply(ctx, ApplyInput{
		WalletID:    w.ID,
		CallerID:    owner,
		Direction:   ledger.DirectionOut,
		Amount:      decimal.RequireFromString("50.00"),
		Description: "groceries",
	})
	if err != nil {
		t.Fatalf("apply debit: %v", err)
	}
	if !second.ResultingBalance.Equal(decimal.RequireFromString("450.00")) {
		t.Fatalf("expected resulting balance 450.00, got %s", second.ResultingBalance)
	}

	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(second.ResultingBalance) {
		t.Fatalf("wallet balance %s does not match last snapshot %s", stored.Balance, second.ResultingBalance)
	}

	entries, err := svc.List(ctx, w.ID, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("entries out of order: %+v", entries)
	}
	if entries[1].Timestamp.Before(entries[0].Timestamp) {
		t.Fatalf("second entry has earlier timestamp")
	}
}

func TestApplyBalanceConservation(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.Zero)

	moves := []struct {
		dir    ledger.Direction
		amount string
	}{
		{ledger.DirectionIn, "100.25"},
		{ledger.DirectionOut, "40.75"},
		{ledger.DirectionIn, "0.50"},
		{ledger.DirectionOut, "200.00"}, // overdraft is permitted
	}
	for _, m := range moves {
		if _, err := svc.Apply(ctx, ApplyInput{
			WalletID:  w.ID,
			CallerID:  owner,
			Direction: m.dir,
			Amount:    decimal.RequireFromString(m.amount),
		}); err != nil {
			t.Fatalf("apply %s %s: %v", m.dir, m.amount, err)
		}
	}

	entries, _ := svc.List(ctx, w.ID, owner)
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(sum) {
		t.Fatalf("balance %s != signed sum %s", stored.Balance, sum)
	}
	last := entries[len(entries)-1]
	if !stored.Balance.Equal(last.ResultingBalance) {
		t.Fatalf("balance %s != last snapshot %s", stored.Balance, last.ResultingBalance)
	}
	if !stored.Balance.Equal(decimal.RequireFromString("-140.00")) {
		t.Fatalf("expected -140.00 after overdraft, got %s", stored.Balance)
	}
}

func TestApplyAtomicityUnderForcedFailure(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.NewFromInt(100))

	// Fail the second write of the commit group.
	ledger.FailNextSetBalance(store, errors.New("disk full"))

	_, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(50),
	})
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}

	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed despite failure: %s", stored.Balance)
	}
	entries, _ := svc.List(ctx, w.ID, owner)
	if len(entries) != 0 {
		t.Fatalf("entry visible despite failure: %+v", entries)
	}
}

func TestApplyCommitFailureRollsBack(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.NewFromInt(100))

	ledger.FailNextCommit(store, errors.New("connection reset"))

	_, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionOut,
		Amount:    decimal.NewFromInt(30),
	})
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}

	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed despite commit failure: %s", stored.Balance)
	}
}

func TestApplyAuthorization(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.NewFromInt(75))

	_, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  uuid.NewString(),
		Direction: ledger.DirectionOut,
		Amount:    decimal.NewFromInt(75),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign caller, got %v", err)
	}

	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("state changed on rejected call: %s", stored.Balance)
	}
	entries, _ := store.ListEntries(ctx, w.ID)
	if len(entries) != 0 {
		t.Fatalf("entry recorded on rejected call")
	}

	if _, err := svc.Apply(ctx, ApplyInput{
		WalletID:  uuid.NewString(),
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(1),
	}); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound for absent wallet, got %v", err)
	}
}

func TestApplyInvalidPayload(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.Zero)

	if _, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.Direction("both"),
		Amount:    decimal.NewFromInt(1),
	}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for direction, got %v", err)
	}

	if _, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(-5),
	}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for negative amount, got %v", err)
	}
}

func TestApplyConcurrentSameWallet(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.NewFromInt(100))

	var wg sync.WaitGroup
	apply := func(dir ledger.Direction, amount int64) {
		defer wg.Done()
		if _, err := svc.Apply(ctx, ApplyInput{
			WalletID:  w.ID,
			CallerID:  owner,
			Direction: dir,
			Amount:    decimal.NewFromInt(amount),
		}); err != nil {
			t.Errorf("concurrent apply: %v", err)
		}
	}
	wg.Add(2)
	go apply(ledger.DirectionIn, 50)
	go apply(ledger.DirectionOut, 30)
	wg.Wait()

	stored, _ := store.GetWallet(ctx, w.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("lost update: final balance %s, want 120", stored.Balance)
	}

	entries, _ := svc.List(ctx, w.ID, owner)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Whichever committed second must carry the final balance.
	finals := map[string]bool{"120": true}
	intermediates := map[string]bool{"150": true, "70": true}
	firstSnap := entries[0].ResultingBalance.String()
	lastSnap := entries[1].ResultingBalance.String()
	if !intermediates[firstSnap] || !finals[lastSnap] {
		t.Fatalf("unexpected snapshots %s then %s", firstSnap, lastSnap)
	}
}

func TestApplySoftDeletedWallet(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.NewFromInt(10))

	e, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("apply before delete: %v", err)
	}

	g, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := g.SoftDelete(ctx, w.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := g.Commit(ctx, true); err != nil {
		t.Fatalf("commit delete: %v", err)
	}

	if _, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(5),
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after soft delete, got %v", err)
	}

	// Read path masks the deleted wallet entirely.
	if _, err := svc.List(ctx, w.ID, owner); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound listing deleted wallet, got %v", err)
	}

	// Existing entries remain individually fetchable, no cascade.
	got, err := svc.Get(ctx, e.ID, owner)
	if err != nil {
		t.Fatalf("get entry after delete: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("expected entry %s, got %s", e.ID, got.ID)
	}
}

func TestGetMasksForeignEntries(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.NewString()
	w := seedWallet(store, owner, decimal.Zero)

	e, err := svc.Apply(ctx, ApplyInput{
		WalletID:  w.ID,
		CallerID:  owner,
		Direction: ledger.DirectionIn,
		Amount:    decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := svc.Get(ctx, e.ID, uuid.NewString()); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for foreign caller, got %v", err)
	}
}
