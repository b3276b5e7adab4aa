package ledger

// Test helpers for the in-memory store. Each applies only when the store was
// built with NewMemory; against other backends they do nothing.

// SeedWallet installs a wallet document directly, bypassing CreateWallet.
func SeedWallet(s Store, w Wallet) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.wallets[w.ID] = w
	}
}

// SeedEntry installs a transaction document directly, bypassing commit groups.
func SeedEntry(s Store, e Entry) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.entries[e.ID] = e
		mem.byWallet[e.WalletID] = append(mem.byWallet[e.WalletID], e.ID)
	}
}

// FailNextAppend makes the next AppendEntry inside a commit group return err.
func FailNextAppend(s Store, err error) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failAppend = err
	}
}

// FailNextSetBalance makes the next SetBalance inside a commit group return err.
func FailNextSetBalance(s Store, err error) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failSetBalance = err
	}
}

// FailNextCommit makes the next successful Commit return err and discard the
// staged writes.
func FailNextCommit(s Store, err error) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failCommit = err
	}
}
