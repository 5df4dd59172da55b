package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perpgate/pkg/core"
)

// KeyRing hands out API credentials and rotates between them according to a
// RotationStrategy.
type KeyRing struct {
	mu       sync.RWMutex
	keys     []*APIKey
	current  int
	strategy RotationStrategy
	now      func() time.Time
	logger   zerolog.Logger
}

type APIKey struct {
	ID         string
	Key        string
	Secret     string
	Disabled   bool
	LastUsed   time.Time
	ErrorCount int
}

// Credentials returns the key in the form the signer expects.
func (k *APIKey) Credentials() *core.Credentials {
	return &core.Credentials{APIKey: k.Key, SecretKey: k.Secret}
}

type RotationStrategy int

const (
	// RotationRoundRobin moves to the next key after every use.
	RotationRoundRobin RotationStrategy = iota
	// RotationOnError moves to the next key after any reported error.
	RotationOnError
	// RotationOnRateLimit moves to the next key only on rate limit or ban errors.
	RotationOnRateLimit
)

func NewKeyRing(keys []*APIKey, strategy RotationStrategy) *KeyRing {
	keysCopy := make([]*APIKey, 0, len(keys))
	for _, k := range keys {
		if k == nil {
			continue
		}
		c := *k
		keysCopy = append(keysCopy, &c)
	}

	return &KeyRing{
		keys:     keysCopy,
		strategy: strategy,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
}

// FromCredentials builds a single-key ring.
func FromCredentials(id string, creds *core.Credentials) *KeyRing {
	if creds == nil {
		return NewKeyRing(nil, RotationOnRateLimit)
	}
	return NewKeyRing([]*APIKey{{ID: id, Key: creds.APIKey, Secret: creds.SecretKey}}, RotationOnRateLimit)
}

func (k *KeyRing) SetLogger(logger zerolog.Logger) {
	k.mu.Lock()
	k.logger = logger
	k.mu.Unlock()
}

// Current returns a copy of the active key, or nil when every key is disabled.
func (k *KeyRing) Current() *APIKey {
	k.mu.RLock()
	defer k.mu.RUnlock()

	idx := k.activeLocked()
	if idx < 0 {
		return nil
	}
	c := *k.keys[idx]
	return &c
}

// Credentials returns the active key's credentials, or nil.
func (k *KeyRing) Credentials() *core.Credentials {
	key := k.Current()
	if key == nil {
		return nil
	}
	return key.Credentials()
}

func (k *KeyRing) activeLocked() int {
	for i := range len(k.keys) {
		idx := (k.current + i) % len(k.keys)
		if !k.keys[idx].Disabled {
			return idx
		}
	}
	return -1
}

func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotateLocked()
}

func (k *KeyRing) rotateLocked() {
	if len(k.keys) == 0 {
		return
	}

	start := k.current
	for {
		k.current = (k.current + 1) % len(k.keys)
		if !k.keys[k.current].Disabled || k.current == start {
			break
		}
	}
	k.logger.Debug().Str("key", k.keys[k.current].ID).Msg("rotated api key")
}

// OnError records an error against the active key and rotates when the
// strategy asks for it.
func (k *KeyRing) OnError(err error) {
	if err == nil {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	idx := k.activeLocked()
	if idx < 0 {
		return
	}
	k.keys[idx].ErrorCount++
	k.current = idx

	switch k.strategy {
	case RotationOnError:
		k.rotateLocked()
	case RotationOnRateLimit:
		if core.IsRateLimitError(err) {
			k.rotateLocked()
		}
	}
}

// MarkUsed stamps the active key and advances a round robin ring.
func (k *KeyRing) MarkUsed() {
	k.mu.Lock()
	defer k.mu.Unlock()

	idx := k.activeLocked()
	if idx < 0 {
		return
	}
	k.keys[idx].LastUsed = k.now()
	k.current = idx

	if k.strategy == RotationRoundRobin {
		k.rotateLocked()
	}
}

func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = true
			return
		}
	}
}

func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = false
			key.ErrorCount = 0
			return
		}
	}
}

func (k *KeyRing) Add(key *APIKey) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.keys {
		if existing.ID == key.ID {
			return
		}
	}

	k.keys = append(k.keys, &APIKey{
		ID:     key.ID,
		Key:    key.Key,
		Secret: key.Secret,
	})
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.ID == id {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			if k.current >= len(k.keys) {
				k.current = 0
			}
			return
		}
	}
}

func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Key:%s}", k.ID, maskKey(k.Key))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
