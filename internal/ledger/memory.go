package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// memoryStore keeps both collections in maps. A single mutex guards all state
// and is held for the whole lifetime of a commit group, so open groups are
// fully serialized: the equivalent of an exclusive lock on every document.
type memoryStore struct {
	mu       sync.Mutex
	wallets  map[string]Wallet
	entries  map[string]Entry
	byWallet map[string][]string

	failAppend     error
	failSetBalance error
	failCommit     error
}

// NewMemory creates an in-memory store used by tests and by the server when it
// runs without a database.
func NewMemory() Store {
	return &memoryStore{
		wallets:  make(map[string]Wallet),
		entries:  make(map[string]Entry),
		byWallet: make(map[string][]string),
	}
}

func (s *memoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return errors.New("wallet exists")
	}
	s.wallets[w.ID] = w
	return nil
}

func (s *memoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *memoryStore) ListWallets(_ context.Context, ownerID string) ([]Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wallets []Wallet
	for _, w := range s.wallets {
		if w.OwnerID == ownerID && !w.Deleted {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets, nil
}

func (s *memoryStore) GetEntry(_ context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *memoryStore) ListEntries(_ context.Context, walletID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byWallet[walletID]
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, s.entries[id])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Begin acquires the store mutex and holds it until Commit, serializing the
// group against every other read and write.
func (s *memoryStore) Begin(_ context.Context) (Group, error) {
	s.mu.Lock()
	return &memoryGroup{
		store:    s,
		balances: make(map[string]decimal.Decimal),
		edited:   make(map[string]Wallet),
	}, nil
}

type memoryGroup struct {
	store    *memoryStore
	staged   []Entry
	balances map[string]decimal.Decimal
	edited   map[string]Wallet
	done     bool
}

// currentWallet reads through the group's staged edits.
func (g *memoryGroup) currentWallet(id string) (Wallet, bool) {
	if w, ok := g.edited[id]; ok {
		return w, true
	}
	w, ok := g.store.wallets[id]
	return w, ok
}

func (g *memoryGroup) LockWallet(_ context.Context, id string) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	w, ok := g.currentWallet(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (g *memoryGroup) AppendEntry(_ context.Context, e Entry) error {
	if g.done {
		return ErrGroupClosed
	}
	if err := g.store.failAppend; err != nil {
		g.store.failAppend = nil
		return err
	}
	if _, ok := g.store.wallets[e.WalletID]; !ok {
		return ErrNotFound
	}
	g.staged = append(g.staged, e)
	return nil
}

func (g *memoryGroup) SetBalance(_ context.Context, walletID string, balance decimal.Decimal) error {
	if g.done {
		return ErrGroupClosed
	}
	if err := g.store.failSetBalance; err != nil {
		g.store.failSetBalance = nil
		return err
	}
	if _, ok := g.currentWallet(walletID); !ok {
		return ErrNotFound
	}
	g.balances[walletID] = balance
	return nil
}

func (g *memoryGroup) UpdateMeta(_ context.Context, walletID string, update MetaUpdate) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	w, ok := g.currentWallet(walletID)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if update.Name != nil {
		w.Name = *update.Name
	}
	if update.Color != nil {
		w.Color = *update.Color
	}
	if update.Icon != nil {
		w.Icon = *update.Icon
	}
	g.edited[walletID] = w
	return w, nil
}

func (g *memoryGroup) SoftDelete(_ context.Context, walletID string) (Wallet, error) {
	if g.done {
		return Wallet{}, ErrGroupClosed
	}
	w, ok := g.currentWallet(walletID)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	w.Deleted = true
	g.edited[walletID] = w
	return w, nil
}

func (g *memoryGroup) Commit(_ context.Context, success bool) error {
	if g.done {
		return ErrGroupClosed
	}
	g.done = true
	defer g.store.mu.Unlock()

	if !success {
		return nil
	}
	if err := g.store.failCommit; err != nil {
		g.store.failCommit = nil
		return err
	}
	for _, e := range g.staged {
		g.store.entries[e.ID] = e
		g.store.byWallet[e.WalletID] = append(g.store.byWallet[e.WalletID], e.ID)
	}
	for id, w := range g.edited {
		g.store.wallets[id] = w
	}
	// Balance writes land last so they win over staged metadata edits.
	for id, balance := range g.balances {
		w := g.store.wallets[id]
		w.Balance = balance
		g.store.wallets[id] = w
	}
	return nil
}
