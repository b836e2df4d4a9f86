package ledger

import (
	"fmt"
	"sync"
)

// accountLocks serializes position read-modify-write cycles. Applies to
// different instruments in one account may run concurrently (each takes the
// account lock shared plus its own key lock); a recalculation takes the
// account lock exclusively because it rewrites every position at once.
type accountLocks struct {
	mu       sync.Mutex
	accounts map[int64]*sync.RWMutex
	keys     map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{
		accounts: make(map[int64]*sync.RWMutex),
		keys:     make(map[string]*sync.Mutex),
	}
}

func (l *accountLocks) account(id int64) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.accounts[id]
	if !ok {
		m = &sync.RWMutex{}
		l.accounts[id] = m
	}
	return m
}

func (l *accountLocks) key(accountID int64, code string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := fmt.Sprintf("%d:%s", accountID, code)
	m, ok := l.keys[k]
	if !ok {
		m = &sync.Mutex{}
		l.keys[k] = m
	}
	return m
}

// lockKey serializes one account and instrument pair; returns the unlock.
func (l *accountLocks) lockKey(accountID int64, code string) func() {
	acct := l.account(accountID)
	acct.RLock()
	key := l.key(accountID, code)
	key.Lock()
	return func() {
		key.Unlock()
		acct.RUnlock()
	}
}

// lockAccount takes a whole account exclusively; returns the unlock.
func (l *accountLocks) lockAccount(accountID int64) func() {
	acct := l.account(accountID)
	acct.Lock()
	return acct.Unlock
}
