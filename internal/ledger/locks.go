package ledger

import "sync"

// AccountLocks serializes check-then-debit sequences per account. Entries
// are reference counted and removed once no one holds or waits for them.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until id is free and returns the matching unlock, which may be
// called more than once. Callers must not hold another account's lock while
// calling it.
func (l *AccountLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{}
		l.locks[id] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			al.mu.Unlock()

			l.mu.Lock()
			al.refs--
			if al.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

func (l *AccountLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
