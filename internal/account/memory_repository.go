package account

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository is an in-memory Repository for development and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account // keyed by lowercased username
	profiles map[string]Profile // keyed by account id
}

// NewMemoryRepository builds an in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]Account),
		profiles: make(map[string]Profile),
	}
}

// Put stores an account together with its profile.
func (r *MemoryRepository) Put(acct Account, profile Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile.AccountID = acct.ID
	r.accounts[strings.ToLower(acct.Username)] = acct
	r.profiles[acct.ID] = profile
}

// Get returns the stored account by exact id, for test assertions.
func (r *MemoryRepository) Get(accountID string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acct := range r.accounts {
		if acct.ID == accountID {
			return acct, true
		}
	}
	return Account{}, false
}

func (r *MemoryRepository) FindByUsername(_ context.Context, username string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[strings.ToLower(username)]
	if !ok || acct.Host != "" {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (r *MemoryRepository) FindProfile(_ context.Context, accountID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[accountID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return profile, nil
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, accountID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[accountID]
	if !ok {
		return ErrNotFound
	}
	profile.Password = &hash
	r.profiles[accountID] = profile
	return nil
}

func (r *MemoryRepository) Approve(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, acct := range r.accounts {
		if acct.ID == accountID {
			acct.Approved = true
			r.accounts[key] = acct
			return nil
		}
	}
	return ErrNotFound
}
