package session

import (
	"slices"
	"sync"
)

// ActiveTokens is the persisted set of live tokens per user. Every mutation
// is flushed to disk before it returns.
type ActiveTokens struct {
	mu     sync.Mutex
	path   string
	tokens map[string][]string
}

// LoadActiveTokens reads the store at path. A missing file is an empty store.
func LoadActiveTokens(path string) (*ActiveTokens, error) {
	a := &ActiveTokens{path: path, tokens: make(map[string][]string)}
	if err := loadJSON(path, &a.tokens); err != nil {
		return nil, err
	}
	if a.tokens == nil {
		a.tokens = make(map[string][]string)
	}
	return a, nil
}

// Tokens returns the tokens of user.
func (a *ActiveTokens) Tokens(user string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.tokens[user])
}

// Count returns the number of tokens of user.
func (a *ActiveTokens) Count(user string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tokens[user])
}

// Add records token for user.
func (a *ActiveTokens) Add(user, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Contains(a.tokens[user], token) {
		return nil
	}
	a.tokens[user] = append(a.tokens[user], token)
	return a.flushLocked()
}

// Remove drops token from user and reports whether it was present.
func (a *ActiveTokens) Remove(user, token string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.tokens[user]
	i := slices.Index(list, token)
	if i < 0 {
		return false, nil
	}
	a.setLocked(user, slices.Delete(list, i, i+1))
	return true, a.flushLocked()
}

// Retain keeps only the tokens of user for which keep returns true; an
// empty user applies to every user. It returns the number dropped.
func (a *ActiveTokens) Retain(user string, keep func(token string) bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for u, list := range a.tokens {
		if user != "" && u != user {
			continue
		}
		kept := slices.DeleteFunc(slices.Clone(list), func(tok string) bool { return !keep(tok) })
		if n := len(list) - len(kept); n > 0 {
			dropped += n
			a.setLocked(u, kept)
		}
	}
	if dropped == 0 {
		return 0, nil
	}
	return dropped, a.flushLocked()
}

func (a *ActiveTokens) setLocked(user string, list []string) {
	if len(list) == 0 {
		delete(a.tokens, user)
		return
	}
	a.tokens[user] = list
}

func (a *ActiveTokens) flushLocked() error {
	return writeJSONAtomic(a.path, a.tokens)
}

// Revocations is the persisted list of revoked tokens bucketed by the UTC
// day they were revoked on ("2006-01-02").
type Revocations struct {
	mu   sync.Mutex
	path string
	days map[string][]string
}

// LoadRevocations reads the store at path. A missing file is an empty store.
func LoadRevocations(path string) (*Revocations, error) {
	r := &Revocations{path: path, days: make(map[string][]string)}
	if err := loadJSON(path, &r.days); err != nil {
		return nil, err
	}
	if r.days == nil {
		r.days = make(map[string][]string)
	}
	return r, nil
}

// Add records token in the bucket of day.
func (r *Revocations) Add(day, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.days[day], token) {
		return nil
	}
	r.days[day] = append(r.days[day], token)
	return writeJSONAtomic(r.path, r.days)
}

// Contains reports whether token is in a bucket dated on or after sinceDay.
// An empty sinceDay matches every bucket.
func (r *Revocations) Contains(token, sinceDay string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for day, list := range r.days {
		if day >= sinceDay && slices.Contains(list, token) {
			return true
		}
	}
	return false
}

// DropBefore removes every bucket dated before day and returns the number
// of tokens dropped.
func (r *Revocations) DropBefore(day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for d, list := range r.days {
		if d < day {
			dropped += len(list)
			delete(r.days, d)
		}
	}
	if dropped == 0 {
		return 0, nil
	}
	return dropped, writeJSONAtomic(r.path, r.days)
}

// Days returns the number of retained buckets.
func (r *Revocations) Days() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.days)
}
