package favorites

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Klingon-tech/klingfolio/internal/chain"
)

// SchemaVersion is the version written by Encode.
//
//	0: browser layout {"state":{"favorites":[...]},"version":0}
//	1: {"favorites":[...]} with no version field
//	2: {"version":2,"favorites":[...]}
const SchemaVersion = 2

// StorageKey is the fixed key the collection is persisted under.
const StorageKey = "defi-dashboard-favorites"

type document struct {
	Version   int      `json:"version"`
	Favorites []record `json:"favorites"`
}

type legacyDocument struct {
	State struct {
		Favorites []record `json:"favorites"`
	} `json:"state"`
	Version int `json:"version"`
}

// record is the persisted form of a Token. AddedAt is unix milliseconds.
// Pointer fields distinguish missing values from zero values.
type record struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Name     *string `json:"name,omitempty"`
	Decimals *int    `json:"decimals,omitempty"`
	ChainID  uint64  `json:"chainId"`
	AddedAt  int64   `json:"addedAt,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// DecodeResult is the outcome of Decode.
type DecodeResult struct {
	Tokens  []Token
	Version int      // version found in the input
	Dropped []string // reasons for records that were skipped
}

// Encode serializes favorites as a current-version document.
func Encode(tokens []Token) ([]byte, error) {
	doc := document{
		Version:   SchemaVersion,
		Favorites: make([]record, 0, len(tokens)),
	}
	for _, t := range tokens {
		name := t.Name
		decimals := int(t.Decimals)
		doc.Favorites = append(doc.Favorites, record{
			Address:  t.Address,
			Symbol:   t.Symbol,
			Name:     &name,
			Decimals: &decimals,
			ChainID:  t.ChainID,
			AddedAt:  t.AddedAt.UnixMilli(),
			Note:     t.Note,
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode favorites: %w", err)
	}
	return data, nil
}

// Decode parses any known document version, migrating it to the current
// model. Missing fields get defaults (decimals 18, name = symbol,
// addedAt = now). Invalid and duplicate records are dropped rather than
// failing the whole load.
func Decode(data []byte, now time.Time) (*DecodeResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	res := &DecodeResult{}
	var records []record

	switch {
	case fields["state"] != nil:
		var legacy legacyDocument
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, err
		}
		res.Version = 0
		records = legacy.State.Favorites

	case fields["version"] != nil:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.Version > SchemaVersion {
			return nil, fmt.Errorf("unsupported favorites schema version %d", doc.Version)
		}
		res.Version = doc.Version
		records = doc.Favorites

	default:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		res.Version = 1
		records = doc.Favorites
	}

	seen := make(map[chain.Identity]bool, len(records))
	res.Tokens = make([]Token, 0, len(records))

	for i, r := range records {
		token, reason := migrateRecord(r, now)
		if reason != "" {
			res.Dropped = append(res.Dropped, fmt.Sprintf("record %d: %s", i, reason))
			continue
		}
		id := token.Identity()
		if seen[id] {
			res.Dropped = append(res.Dropped, fmt.Sprintf("record %d: duplicate %s", i, id))
			continue
		}
		seen[id] = true
		res.Tokens = append(res.Tokens, token)
	}

	return res, nil
}

func migrateRecord(r record, now time.Time) (Token, string) {
	addr, err := chain.NormalizeAddress(r.Address)
	if err != nil {
		return Token{}, err.Error()
	}
	if r.ChainID == 0 {
		return Token{}, "missing chain id"
	}
	symbol := strings.TrimSpace(r.Symbol)
	if symbol == "" {
		return Token{}, "missing symbol"
	}

	decimals := chain.DefaultDecimals
	if r.Decimals != nil {
		if *r.Decimals < 0 || *r.Decimals > 255 {
			return Token{}, fmt.Sprintf("decimals %d out of range", *r.Decimals)
		}
		decimals = uint8(*r.Decimals)
	}

	name := symbol
	if r.Name != nil && strings.TrimSpace(*r.Name) != "" {
		name = *r.Name
	}

	addedAt := now.Truncate(time.Millisecond)
	if r.AddedAt > 0 {
		addedAt = time.UnixMilli(r.AddedAt)
	}

	return Token{
		Address:  addr,
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
		ChainID:  r.ChainID,
		AddedAt:  addedAt,
		Note:     r.Note,
	}, ""
}
