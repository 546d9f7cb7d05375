// Package favorites maintains the user's ordered, deduplicated list of
// favorite tokens and persists it across restarts.
package favorites

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// Favorites errors
var (
	ErrDuplicateFavorite = errors.New("token already in favorites")
	ErrInvalidToken      = errors.New("invalid favorite token")
)

// Token is a favorite token record. Address is stored in canonical form
// (lower-case hex or chain.NativeAddress).
type Token struct {
	Address  string    `json:"address"`
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Decimals uint8     `json:"decimals"`
	ChainID  uint64    `json:"chain_id"`
	AddedAt  time.Time `json:"added_at"`
	Note     string    `json:"note,omitempty"`
}

// Identity returns the token's canonical identity.
func (t Token) Identity() chain.Identity {
	return chain.MustIdentity(t.ChainID, t.Address)
}

// NewToken is the input of Add. AddedAt is assigned by the store.
type NewToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	ChainID  uint64 `json:"chain_id"`
	Note     string `json:"note,omitempty"`
}

// Patch holds the mutable fields of a favorite. Nil fields are left alone.
// Symbol and Name are never blanked: a blank value is ignored. Note may be
// cleared with "".
type Patch struct {
	Symbol *string `json:"symbol,omitempty"`
	Name   *string `json:"name,omitempty"`
	Note   *string `json:"note,omitempty"`
}

// ChangeKind describes a store mutation.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
	ChangeCleared ChangeKind = "cleared"
)

// Change is delivered to listeners after a mutation has been persisted.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Token *Token     `json:"token,omitempty"`
}

// Config configures a Store.
type Config struct {
	// Persister stores the collection. Nil keeps favorites in memory only.
	Persister Persister

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger *logging.Logger
}

// Store is the favorites collection. Mutations are serialized and applied
// atomically: a mutation is persisted before it becomes visible, and a
// failed save leaves the collection unchanged.
type Store struct {
	mu        sync.RWMutex
	favorites []Token
	index     map[chain.Identity]int

	persister Persister
	now       func() time.Time
	log       *logging.Logger

	listenersMu sync.RWMutex
	listeners   []func(Change)
}

// New creates a store and loads any persisted favorites.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Store{
		persister: cfg.Persister,
		now:       cfg.Clock,
		log:       cfg.Logger,
		index:     make(map[chain.Identity]int),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logging.GetDefault().Component("favorites")
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.persister == nil {
		return nil
	}

	data, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	res, err := Decode(data, s.now())
	if err != nil {
		return fmt.Errorf("failed to decode favorites: %w", err)
	}
	for _, reason := range res.Dropped {
		s.log.Warn("Dropped persisted favorite", "reason", reason)
	}
	if res.Version != SchemaVersion {
		s.log.Info("Migrated favorites", "from_version", res.Version, "to_version", SchemaVersion, "count", len(res.Tokens))
	}

	s.favorites = res.Tokens
	s.reindex()

	// Rewrite migrated or cleaned documents so the next load is clean.
	if res.Version != SchemaVersion || len(res.Dropped) > 0 {
		if err := s.persist(s.favorites); err != nil {
			s.log.Warn("Failed to rewrite migrated favorites", "error", err)
		}
	}

	s.log.Debug("Favorites loaded", "count", len(s.favorites))
	return nil
}

func (s *Store) reindex() {
	s.index = make(map[chain.Identity]int, len(s.favorites))
	for i, t := range s.favorites {
		s.index[t.Identity()] = i
	}
}

func (s *Store) persist(next []Token) error {
	if s.persister == nil {
		return nil
	}
	data, err := Encode(next)
	if err != nil {
		return err
	}
	if err := s.persister.Save(data); err != nil {
		return fmt.Errorf("failed to save favorites: %w", err)
	}
	return nil
}

// commit persists next and swaps it in. Caller holds s.mu.
func (s *Store) commit(next []Token) error {
	if err := s.persist(next); err != nil {
		return err
	}
	s.favorites = next
	s.reindex()
	return nil
}

// OnChange registers a listener called after every successful mutation.
// Listeners run after the store lock is released and may read the store.
func (s *Store) OnChange(fn func(Change)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(c Change) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Add appends a favorite and stamps AddedAt. Adding an identity that is
// already present returns ErrDuplicateFavorite and changes nothing.
func (s *Store) Add(in NewToken) (Token, error) {
	addr, err := chain.NormalizeAddress(in.Address)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if in.ChainID == 0 {
		return Token{}, fmt.Errorf("%w: chain id is required", ErrInvalidToken)
	}
	symbol := strings.TrimSpace(in.Symbol)
	if symbol == "" {
		return Token{}, fmt.Errorf("%w: symbol is required", ErrInvalidToken)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = symbol
	}

	id := chain.MustIdentity(in.ChainID, addr)

	s.mu.Lock()
	if _, exists := s.index[id]; exists {
		s.mu.Unlock()
		return Token{}, fmt.Errorf("%w: %s", ErrDuplicateFavorite, id)
	}

	token := Token{
		Address:  addr,
		Symbol:   symbol,
		Name:     name,
		Decimals: in.Decimals,
		ChainID:  in.ChainID,
		AddedAt:  s.now().Truncate(time.Millisecond),
		Note:     in.Note,
	}

	next := make([]Token, len(s.favorites), len(s.favorites)+1)
	copy(next, s.favorites)
	next = append(next, token)

	err = s.commit(next)
	s.mu.Unlock()
	if err != nil {
		return Token{}, err
	}

	s.log.Debug("Favorite added", "symbol", token.Symbol, "identity", id)
	s.notify(Change{Kind: ChangeAdded, Token: &token})
	return token, nil
}

// Remove deletes the favorite with the given identity. Removing an absent
// favorite is not an error; the boolean reports whether anything was removed.
func (s *Store) Remove(address string, chainID uint64) (bool, error) {
	id, err := chain.NewIdentity(chainID, address)
	if err != nil {
		return false, nil
	}

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	removed := s.favorites[i]

	next := make([]Token, 0, len(s.favorites)-1)
	next = append(next, s.favorites[:i]...)
	next = append(next, s.favorites[i+1:]...)

	err = s.commit(next)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	s.log.Debug("Favorite removed", "symbol", removed.Symbol, "identity", id)
	s.notify(Change{Kind: ChangeRemoved, Token: &removed})
	return true, nil
}

// Update merges patch into the favorite with the given identity. Address,
// chain ID and AddedAt never change. Updating an absent favorite is a no-op.
func (s *Store) Update(address string, chainID uint64, patch Patch) (Token, bool, error) {
	id, err := chain.NewIdentity(chainID, address)
	if err != nil {
		return Token{}, false, nil
	}

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return Token{}, false, nil
	}

	updated := s.favorites[i]
	if patch.Symbol != nil {
		if sym := strings.TrimSpace(*patch.Symbol); sym != "" {
			updated.Symbol = sym
		}
	}
	if patch.Name != nil {
		if name := strings.TrimSpace(*patch.Name); name != "" {
			updated.Name = name
		}
	}
	if patch.Note != nil {
		updated.Note = *patch.Note
	}

	next := make([]Token, len(s.favorites))
	copy(next, s.favorites)
	next[i] = updated

	err = s.commit(next)
	s.mu.Unlock()
	if err != nil {
		return Token{}, false, err
	}

	s.notify(Change{Kind: ChangeUpdated, Token: &updated})
	return updated, true, nil
}

// Clear removes every favorite.
func (s *Store) Clear() error {
	s.mu.Lock()
	err := s.commit(nil)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Debug("Favorites cleared")
	s.notify(Change{Kind: ChangeCleared})
	return nil
}

// IsFavorite reports whether the identity is in the store. Address matching
// is case-insensitive.
func (s *Store) IsFavorite(address string, chainID uint64) bool {
	id, err := chain.NewIdentity(chainID, address)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.index[id]
	return ok
}

// Get returns the favorite with the given identity.
func (s *Store) Get(address string, chainID uint64) (Token, bool) {
	id, err := chain.NewIdentity(chainID, address)
	if err != nil {
		return Token{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Token{}, false
	}
	return s.favorites[i], true
}

// ListByChain returns the favorites on a chain in insertion order.
func (s *Store) ListByChain(chainID uint64) []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Token, 0)
	for _, t := range s.favorites {
		if t.ChainID == chainID {
			out = append(out, t)
		}
	}
	return out
}

// List returns all favorites in insertion order.
func (s *Store) List() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Token, len(s.favorites))
	copy(out, s.favorites)
	return out
}

// Count returns the number of favorites.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.favorites)
}

// CountByChain returns the number of favorites per chain.
func (s *Store) CountByChain() map[uint64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]int)
	for _, t := range s.favorites {
		out[t.ChainID]++
	}
	return out
}
