package favorites

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/storage"
)

const (
	usdcMainnet = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	daiMainnet  = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	usdcPolygon = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

// stepClock advances by one millisecond on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// memPersister keeps the last saved document in memory.
type memPersister struct {
	data  []byte
	saves int
	fail  bool
}

func (p *memPersister) Load() ([]byte, error) { return p.data, nil }

func (p *memPersister) Save(data []byte) error {
	if p.fail {
		return errors.New("disk full")
	}
	p.saves++
	p.data = append([]byte(nil), data...)
	return nil
}

func newTestStore(t *testing.T, p Persister) *Store {
	t.Helper()

	s, err := New(&Config{Persister: p, Clock: newStepClock().Now})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func usdc() NewToken {
	return NewToken{Address: usdcMainnet, Symbol: "USDC", Name: "USD Coin", Decimals: 6, ChainID: 1}
}

func TestAdd(t *testing.T) {
	s := newTestStore(t, nil)

	token, err := s.Add(usdc())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if token.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Errorf("Address = %s, want canonical lower-case", token.Address)
	}
	if token.AddedAt.IsZero() {
		t.Error("AddedAt should be stamped")
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestAddDefaultsNameToSymbol(t *testing.T) {
	s := newTestStore(t, nil)

	token, err := s.Add(NewToken{Address: "native", Symbol: "ETH", Decimals: 18, ChainID: 1})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if token.Name != "ETH" {
		t.Errorf("Name = %s, want ETH", token.Name)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		token NewToken
	}{
		{"bad address", NewToken{Address: "0x123", Symbol: "X", ChainID: 1}},
		{"no chain", NewToken{Address: usdcMainnet, Symbol: "USDC"}},
		{"no symbol", NewToken{Address: usdcMainnet, Symbol: "  ", ChainID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, nil)
			if _, err := s.Add(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Add() error = %v, want ErrInvalidToken", err)
			}
			if s.Count() != 0 {
				t.Errorf("Count() = %d after rejected add", s.Count())
			}
		})
	}
}

func TestAddDuplicateIsCaseInsensitive(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)

	if _, err := s.Add(usdc()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	savesBefore := p.saves

	dup := usdc()
	dup.Address = "0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48"
	dup.Symbol = "USDC2"

	_, err := s.Add(dup)
	if !errors.Is(err, ErrDuplicateFavorite) {
		t.Fatalf("Add() duplicate error = %v, want ErrDuplicateFavorite", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
	if p.saves != savesBefore {
		t.Error("duplicate add should not persist")
	}

	got, _ := s.Get(usdcMainnet, 1)
	if got.Symbol != "USDC" {
		t.Errorf("Symbol = %s, duplicate add must not modify the entry", got.Symbol)
	}
}

func TestSameAddressDifferentChains(t *testing.T) {
	s := newTestStore(t, nil)

	if _, err := s.Add(usdc()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	other := usdc()
	other.ChainID = 137
	if _, err := s.Add(other); err != nil {
		t.Fatalf("Add() on other chain error = %v", err)
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}

func TestNativePlaceholderIsSameAsSentinel(t *testing.T) {
	s := newTestStore(t, nil)

	if _, err := s.Add(NewToken{Address: "native", Symbol: "ETH", ChainID: 1}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	_, err := s.Add(NewToken{Address: chain.NativePlaceholder, Symbol: "ETH", ChainID: 1})
	if !errors.Is(err, ErrDuplicateFavorite) {
		t.Errorf("Add(placeholder) error = %v, want ErrDuplicateFavorite", err)
	}
}

func TestAddRemoveAdd(t *testing.T) {
	s := newTestStore(t, nil)

	first, err := s.Add(usdc())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	removed, err := s.Remove(usdcMainnet, 1)
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v", removed, err)
	}

	second, err := s.Add(usdc())
	if err != nil {
		t.Fatalf("second Add() error = %v", err)
	}

	if second.AddedAt.Before(first.AddedAt) {
		t.Errorf("second AddedAt %v before first %v", second.AddedAt, first.AddedAt)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)

	removed, err := s.Remove(usdcMainnet, 1)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed {
		t.Error("Remove() of absent favorite reported removal")
	}
	if p.saves != 0 {
		t.Error("Remove() of absent favorite should not persist")
	}

	if removed, err := s.Remove("not-an-address", 1); removed || err != nil {
		t.Errorf("Remove(invalid) = %v, %v", removed, err)
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	s := newTestStore(t, nil)

	s.Add(NewToken{Address: "native", Symbol: "ETH", ChainID: 1})
	s.Add(usdc())
	s.Add(NewToken{Address: daiMainnet, Symbol: "DAI", ChainID: 1})

	if _, err := s.Remove(usdcMainnet, 1); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	list := s.List()
	if len(list) != 2 || list[0].Symbol != "ETH" || list[1].Symbol != "DAI" {
		t.Errorf("List() after remove = %+v", list)
	}
	if !s.IsFavorite(daiMainnet, 1) {
		t.Error("index not rebuilt after remove")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t, nil)

	orig, _ := s.Add(usdc())

	symbol := "USDC.e"
	note := "bridged"
	updated, ok, err := s.Update("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 1, Patch{
		Symbol: &symbol,
		Note:   &note,
	})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}

	if updated.Symbol != "USDC.e" || updated.Note != "bridged" {
		t.Errorf("Update() = %+v", updated)
	}
	if updated.Name != orig.Name {
		t.Errorf("Name changed to %s without being patched", updated.Name)
	}
	if updated.Address != orig.Address || updated.ChainID != orig.ChainID || !updated.AddedAt.Equal(orig.AddedAt) {
		t.Errorf("immutable fields changed: %+v vs %+v", updated, orig)
	}
}

func TestUpdateNeverChangesIdentity(t *testing.T) {
	s := newTestStore(t, nil)
	orig, _ := s.Add(usdc())

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		var p Patch
		if rng.Intn(2) == 0 {
			v := string(rune('A' + rng.Intn(26)))
			p.Symbol = &v
		}
		if rng.Intn(2) == 0 {
			v := ""
			p.Name = &v
		}
		if rng.Intn(2) == 0 {
			v := "n"
			p.Note = &v
		}

		got, ok, err := s.Update(usdcMainnet, 1, p)
		if err != nil || !ok {
			t.Fatalf("Update() = %v, %v", ok, err)
		}
		if got.Address != orig.Address || got.ChainID != orig.ChainID || !got.AddedAt.Equal(orig.AddedAt) {
			t.Fatalf("iteration %d changed identity: %+v", i, got)
		}
	}
}

func TestUpdateIgnoresBlankSymbolAndName(t *testing.T) {
	s := newTestStore(t, nil)
	orig, _ := s.Add(usdc())

	blank := "  "
	empty := ""
	got, ok, err := s.Update(usdcMainnet, 1, Patch{Symbol: &blank, Name: &empty, Note: &empty})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if got.Symbol != orig.Symbol {
		t.Errorf("Symbol = %q, want %q", got.Symbol, orig.Symbol)
	}
	if got.Name != orig.Name {
		t.Errorf("Name = %q, want %q", got.Name, orig.Name)
	}
	if got.Decimals != orig.Decimals {
		t.Errorf("Decimals = %d, want %d", got.Decimals, orig.Decimals)
	}

	note := "bridged"
	s.Update(usdcMainnet, 1, Patch{Note: &note})
	got, _, _ = s.Update(usdcMainnet, 1, Patch{Note: &empty})
	if got.Note != "" {
		t.Errorf("Note = %q, want cleared", got.Note)
	}
}

func TestUpdateAbsentIsNoop(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)

	name := "x"
	_, ok, err := s.Update(usdcMainnet, 1, Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if ok {
		t.Error("Update() of absent favorite reported success")
	}
	if p.saves != 0 || s.Count() != 0 {
		t.Error("Update() of absent favorite changed the store")
	}
}

func TestListByChain(t *testing.T) {
	s := newTestStore(t, nil)

	s.Add(NewToken{Address: "native", Symbol: "ETH", ChainID: 1})
	s.Add(NewToken{Address: "native", Symbol: "MATIC", ChainID: 137})
	s.Add(usdc())
	s.Add(NewToken{Address: usdcPolygon, Symbol: "USDC", ChainID: 137})
	s.Add(NewToken{Address: daiMainnet, Symbol: "DAI", ChainID: 1})

	mainnet := s.ListByChain(1)
	want := []string{"ETH", "USDC", "DAI"}
	if len(mainnet) != len(want) {
		t.Fatalf("len(ListByChain(1)) = %d, want %d", len(mainnet), len(want))
	}
	for i, tok := range mainnet {
		if tok.Symbol != want[i] {
			t.Errorf("ListByChain(1)[%d] = %s, want %s", i, tok.Symbol, want[i])
		}
		if tok.ChainID != 1 {
			t.Errorf("ListByChain(1)[%d].ChainID = %d", i, tok.ChainID)
		}
	}

	if got := s.ListByChain(42161); len(got) != 0 {
		t.Errorf("ListByChain(42161) = %+v, want empty", got)
	}

	counts := s.CountByChain()
	if counts[1] != 3 || counts[137] != 2 {
		t.Errorf("CountByChain() = %v", counts)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newTestStore(t, nil)
	s.Add(usdc())

	list := s.List()
	list[0].Symbol = "HACKED"

	got, _ := s.Get(usdcMainnet, 1)
	if got.Symbol != "USDC" {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestClear(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)
	s.Add(usdc())

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if s.Count() != 0 || s.IsFavorite(usdcMainnet, 1) {
		t.Error("Clear() left favorites behind")
	}

	reloaded := newTestStore(t, p)
	if reloaded.Count() != 0 {
		t.Errorf("reloaded Count() = %d, want 0", reloaded.Count())
	}
}

func TestFailedSaveLeavesStoreUnchanged(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)
	s.Add(usdc())

	p.fail = true

	if _, err := s.Add(NewToken{Address: daiMainnet, Symbol: "DAI", ChainID: 1}); err == nil {
		t.Error("Add() should fail when save fails")
	}
	if _, err := s.Remove(usdcMainnet, 1); err == nil {
		t.Error("Remove() should fail when save fails")
	}
	if err := s.Clear(); err == nil {
		t.Error("Clear() should fail when save fails")
	}

	if s.Count() != 1 || !s.IsFavorite(usdcMainnet, 1) || s.IsFavorite(daiMainnet, 1) {
		t.Errorf("store changed despite failed saves: %+v", s.List())
	}
}

func TestNeverContainsDuplicates(t *testing.T) {
	s := newTestStore(t, nil)

	addrs := []string{"native", usdcMainnet, daiMainnet, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"}
	chains := []uint64{1, 137}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		addr := addrs[rng.Intn(len(addrs))]
		chainID := chains[rng.Intn(len(chains))]
		if rng.Intn(3) == 0 {
			s.Remove(addr, chainID)
		} else {
			s.Add(NewToken{Address: addr, Symbol: "T", ChainID: chainID})
		}

		seen := make(map[chain.Identity]bool)
		for _, tok := range s.List() {
			id := tok.Identity()
			if seen[id] {
				t.Fatalf("step %d: duplicate %s", i, id)
			}
			seen[id] = true
		}
	}
}

func TestListenerMayReadStore(t *testing.T) {
	s := newTestStore(t, nil)

	var counts []int
	s.OnChange(func(c Change) {
		counts = append(counts, s.Count())
		s.IsFavorite(usdcMainnet, 1)
		s.List()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Add(usdc())
		s.Add(NewToken{Address: daiMainnet, Symbol: "DAI", ChainID: 1})
		name := "x"
		s.Update(usdcMainnet, 1, Patch{Name: &name})
		s.Remove(usdcMainnet, 1)
		s.Clear()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutation blocked while a listener read the store")
	}

	want := []int{1, 2, 2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("count after event %d = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestOnChange(t *testing.T) {
	s := newTestStore(t, nil)

	var kinds []ChangeKind
	s.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	s.Add(usdc())
	s.Add(usdc()) // duplicate, no event
	name := "x"
	s.Update(usdcMainnet, 1, Patch{Name: &name})
	s.Remove(usdcMainnet, 1)
	s.Remove(usdcMainnet, 1) // absent, no event
	s.Clear()

	want := []ChangeKind{ChangeAdded, ChangeUpdated, ChangeRemoved, ChangeCleared}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestPersistRoundTrip(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)

	s.Add(NewToken{Address: "native", Symbol: "ETH", Name: "Ether", Decimals: 18, ChainID: 1})
	s.Add(NewToken{Address: usdcPolygon, Symbol: "USDC", Name: "USD Coin", Decimals: 6, ChainID: 137, Note: "stable"})

	reloaded := newTestStore(t, p)

	assertSameFavorites(t, s.List(), reloaded.List())
}

func TestSettingsPersisterRoundTrip(t *testing.T) {
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer store.Close()

	p := NewSettingsPersister(store, "")

	empty, err := p.Load()
	if err != nil || empty != nil {
		t.Fatalf("Load() on empty storage = %q, %v", empty, err)
	}

	s := newTestStore(t, p)
	s.Add(usdc())
	s.Add(NewToken{Address: "native", Symbol: "MATIC", ChainID: 137})

	raw, err := store.GetSetting(StorageKey)
	if err != nil {
		t.Fatalf("GetSetting(%s) error = %v", StorageKey, err)
	}
	if raw == "" {
		t.Fatal("favorites not written to settings")
	}

	reloaded := newTestStore(t, p)
	assertSameFavorites(t, s.List(), reloaded.List())
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := DefaultFilePath(t.TempDir())
	p := NewFilePersister(path)

	empty, err := p.Load()
	if err != nil || empty != nil {
		t.Fatalf("Load() on missing file = %q, %v", empty, err)
	}

	s := newTestStore(t, p)
	s.Add(usdc())

	reloaded := newTestStore(t, NewFilePersister(path))
	assertSameFavorites(t, s.List(), reloaded.List())
}

func TestNewFailsOnCorruptDocument(t *testing.T) {
	p := &memPersister{data: []byte("{not json")}
	if _, err := New(&Config{Persister: p}); err == nil {
		t.Error("New() should fail on a corrupt document")
	}
}

func TestNewRewritesMigratedDocument(t *testing.T) {
	legacy := `{"state":{"favorites":[{"address":"` + usdcMainnet + `","symbol":"USDC","name":"USD Coin","decimals":6,"chainId":1,"addedAt":1700000000000}]},"version":0}`
	p := &memPersister{data: []byte(legacy)}

	s := newTestStore(t, p)
	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", s.Count())
	}
	if p.saves != 1 {
		t.Errorf("migrated document saved %d times, want 1", p.saves)
	}

	res, err := Decode(p.data, time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if res.Version != SchemaVersion {
		t.Errorf("rewritten Version = %d, want %d", res.Version, SchemaVersion)
	}
}

func assertSameFavorites(t *testing.T, want, got []Token) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.Address != w.Address || g.ChainID != w.ChainID || g.Symbol != w.Symbol ||
			g.Name != w.Name || g.Decimals != w.Decimals || g.Note != w.Note || !g.AddedAt.Equal(w.AddedAt) {
			t.Errorf("favorite %d = %+v, want %+v", i, g, w)
		}
	}
}
