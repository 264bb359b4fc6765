// Package credstore persists EncryptedCredential records per account and
// exchange in the Badger secret store.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/cache"
	"github.com/betbot/unitrade/pkg/secretstore"
)

const keyPrefix = "cred/"

// ErrNotFound means the account has no credential for that exchange.
var ErrNotFound = errors.New("credential not found")

type Store struct {
	kv    *secretstore.Store
	cache *cache.InMemoryCache[string, vault.EncryptedCredential]
}

type Option func(*Store)

// WithCache keeps decoded records (still encrypted) in memory for ttl.
// Put and Delete invalidate the entry.
func WithCache(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.cache = cache.NewInMemoryCache[string, vault.EncryptedCredential](ttl, ttl)
		}
	}
}

func New(kv *secretstore.Store, opts ...Option) *Store {
	s := &Store{kv: kv}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close stops the cache janitor; the underlying kv is owned by the caller.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func key(accountID string, ex domain.Exchange) string {
	return keyPrefix + accountID + "/" + string(ex)
}

// Put stores or rotates the credential for (accountID, ex).
func (s *Store) Put(_ context.Context, accountID string, ex domain.Exchange, enc vault.EncryptedCredential) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	b, err := json.Marshal(enc)
	if err != nil {
		return err
	}
	k := key(accountID, ex)
	s.invalidate(k)
	return s.kv.Set(k, b)
}

func (s *Store) Get(_ context.Context, accountID string, ex domain.Exchange) (vault.EncryptedCredential, error) {
	k := key(accountID, ex)
	if s.cache != nil {
		if enc, ok := s.cache.Get(k); ok {
			return enc, nil
		}
	}
	var enc vault.EncryptedCredential
	b, err := s.kv.Get(k)
	if errors.Is(err, secretstore.ErrNotFound) {
		return enc, ErrNotFound
	}
	if err != nil {
		return enc, err
	}
	if err := json.Unmarshal(b, &enc); err != nil {
		return enc, fmt.Errorf("decode credential record: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(k, enc, 0)
	}
	return enc, nil
}

func (s *Store) Delete(_ context.Context, accountID string, ex domain.Exchange) error {
	k := key(accountID, ex)
	s.invalidate(k)
	return s.kv.Delete(k)
}

func (s *Store) invalidate(k string) {
	if s.cache != nil {
		s.cache.Delete(k)
	}
}

// Exchanges lists the exchanges accountID has credentials for.
func (s *Store) Exchanges(_ context.Context, accountID string) ([]domain.Exchange, error) {
	prefix := keyPrefix + accountID + "/"
	keys, err := s.kv.Keys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Exchange, 0, len(keys))
	for _, k := range keys {
		if ex, ok := domain.ParseExchange(strings.TrimPrefix(k, prefix)); ok {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
