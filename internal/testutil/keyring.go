package testutil

import (
	"crypto/sha256"
	"slices"
	"sync"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

// Keyring hands out deterministic writer keys by alias.
//
// The same alias always yields the same key pair, so scenarios that name
// their writers "x", "y" and "z" produce identical entries, view hashes
// and golden files on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Keyring struct {
	mu      sync.Mutex
	byAlias map[string]*keys.KeyPair
	byKey   map[ir.WriterKey]string
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		byAlias: make(map[string]*keys.KeyPair),
		byKey:   make(map[ir.WriterKey]string),
	}
}

// Key returns the key pair for alias, creating it on first use.
func (k *Keyring) Key(alias string) *keys.KeyPair {
	k.mu.Lock()
	defer k.mu.Unlock()
	if kp, ok := k.byAlias[alias]; ok {
		return kp
	}
	seed := sha256.Sum256([]byte("braid/test-writer/" + alias))
	kp, err := keys.FromSeed(seed[:])
	if err != nil {
		// A 32-byte seed is always valid.
		panic(err)
	}
	k.byAlias[alias] = kp
	k.byKey[kp.Public()] = alias
	return kp
}

// Alias returns the alias of key, or the key's short form if the keyring
// never handed it out.
func (k *Keyring) Alias(key ir.WriterKey) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if alias, ok := k.byKey[key]; ok {
		return alias
	}
	return key.Short()
}

// Aliases returns every alias handed out so far, sorted.
func (k *Keyring) Aliases() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.byAlias))
	for a := range k.byAlias {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
