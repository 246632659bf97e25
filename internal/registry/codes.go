package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CodeTTL is how long an emailed verification code stays valid.
const CodeTTL = 10 * time.Minute

type codeEntry struct {
	code    string
	expires time.Time
}

// Codes holds pending verification codes keyed by username. Codes are
// single use and expire after CodeTTL. Contents are non-durable.
type Codes struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]codeEntry
}

func NewCodes() *Codes {
	return &Codes{now: time.Now, pending: make(map[string]codeEntry)}
}

// NewCodesAt builds a code table with an injectable clock.
func NewCodesAt(now func() time.Time) *Codes {
	return &Codes{now: now, pending: make(map[string]codeEntry)}
}

// Issue generates a fresh six digit code for the key, replacing any
// previous one.
func (c *Codes) Issue(key string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	c.mu.Lock()
	c.pending[key] = codeEntry{code: code, expires: c.now().Add(CodeTTL)}
	c.mu.Unlock()
	return code, nil
}

// Drop discards any pending code for the key. Used when the email
// side-effect fails so no orphaned code stays valid.
func (c *Codes) Drop(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Verify checks a submitted code against the pending one for the key and
// consumes it on success. Expired entries are dropped on sight.
func (c *Codes) Verify(key, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pending[key]
	if !ok {
		return false
	}
	if c.now().After(entry.expires) {
		delete(c.pending, key)
		return false
	}
	if entry.code != code {
		return false
	}
	delete(c.pending, key)
	return true
}
