package chain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAllChainsRegistered(t *testing.T) {
	expected := []uint64{EthereumID, PolygonID, ArbitrumID}

	for _, id := range expected {
		if !IsSupported(id) {
			t.Errorf("expected chain %d to be registered", id)
		}
	}

	if IsSupported(56) {
		t.Error("chain 56 should not be registered")
	}
}

func TestChainParams(t *testing.T) {
	tests := []struct {
		id       uint64
		name     string
		native   string
		explorer string
	}{
		{EthereumID, "Ethereum", "ETH", "https://etherscan.io"},
		{PolygonID, "Polygon", "MATIC", "https://polygonscan.com"},
		{ArbitrumID, "Arbitrum", "ETH", "https://arbiscan.io"},
	}

	for _, tt := range tests {
		p, ok := Get(tt.id)
		if !ok {
			t.Fatalf("Get(%d) not found", tt.id)
		}
		if p.Name != tt.name {
			t.Errorf("Name = %s, want %s", p.Name, tt.name)
		}
		if p.NativeSymbol != tt.native {
			t.Errorf("NativeSymbol = %s, want %s", p.NativeSymbol, tt.native)
		}
		if p.ExplorerURL != tt.explorer {
			t.Errorf("ExplorerURL = %s, want %s", p.ExplorerURL, tt.explorer)
		}
		if p.Decimals != 18 {
			t.Errorf("Decimals = %d, want 18", p.Decimals)
		}
	}
}

func TestListOrdered(t *testing.T) {
	chains := List()
	if len(chains) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(chains))
	}
	for i := 1; i < len(chains); i++ {
		if chains[i-1].ChainID >= chains[i].ChainID {
			t.Errorf("List() not ordered at %d", i)
		}
	}
}

func TestNameAndNativeFallback(t *testing.T) {
	if Name(999) != "Unknown" {
		t.Errorf("Name(999) = %s, want Unknown", Name(999))
	}
	if NativeSymbol(999) != "ETH" {
		t.Errorf("NativeSymbol(999) = %s, want ETH", NativeSymbol(999))
	}
	if NativeSymbol(PolygonID) != "MATIC" {
		t.Errorf("NativeSymbol(137) = %s, want MATIC", NativeSymbol(PolygonID))
	}
}

func TestExplorerURLs(t *testing.T) {
	p, _ := Get(EthereumID)
	if got := p.TxURL("0xabc"); got != "https://etherscan.io/tx/0xabc" {
		t.Errorf("TxURL = %s", got)
	}
	if got := p.AddressURL("0xdef"); got != "https://etherscan.io/address/0xdef" {
		t.Errorf("AddressURL = %s", got)
	}
}

func TestNewIdentity(t *testing.T) {
	tests := []struct {
		name    string
		chainID uint64
		address string
		want    string
		wantErr error
	}{
		{"checksummed", 1, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", nil},
		{"lowercase", 1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", nil},
		{"native sentinel", 1, "native", NativeAddress, nil},
		{"native upper", 1, "NATIVE", NativeAddress, nil},
		{"native placeholder", 137, NativePlaceholder, NativeAddress, nil},
		{"placeholder lowercase", 137, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", NativeAddress, nil},
		{"garbage", 1, "hello", "", ErrInvalidAddress},
		{"short hex", 1, "0x1234", "", ErrInvalidAddress},
		{"zero chain", 0, "native", "", ErrInvalidChainID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewIdentity(tt.chainID, tt.address)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewIdentity() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewIdentity() error = %v", err)
			}
			if id.Address() != tt.want {
				t.Errorf("Address() = %s, want %s", id.Address(), tt.want)
			}
			if id.ChainID() != tt.chainID {
				t.Errorf("ChainID() = %d, want %d", id.ChainID(), tt.chainID)
			}
		})
	}
}

func TestIdentityEquality(t *testing.T) {
	a := MustIdentity(1, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	b := MustIdentity(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	c := MustIdentity(137, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")

	if !a.Equal(b) || a != b {
		t.Error("identities differing only by case should be equal")
	}
	if a.Equal(c) {
		t.Error("identities on different chains should differ")
	}

	native := NativeIdentity(1)
	if !native.IsNative() {
		t.Error("NativeIdentity should be native")
	}
	if native.Equal(a) {
		t.Error("native identity must never equal a contract identity")
	}

	m := map[Identity]int{a: 1}
	if m[b] != 1 {
		t.Error("equal identities should share a map key")
	}
}

func TestIdentityChecksumAndString(t *testing.T) {
	id := MustIdentity(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if got := id.Checksum(); got != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Errorf("Checksum() = %s", got)
	}
	if got := NativeIdentity(1).Checksum(); got != NativeAddress {
		t.Errorf("native Checksum() = %s", got)
	}

	parsed, err := ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("ParseIdentity() error = %v", err)
	}
	if parsed != id {
		t.Errorf("ParseIdentity(%s) = %s", id, parsed)
	}

	if _, err := ParseIdentity("nocolon"); err == nil {
		t.Error("ParseIdentity should reject input without a chain")
	}
	if _, err := ParseIdentity("x:native"); !errors.Is(err, ErrInvalidChainID) {
		t.Errorf("ParseIdentity bad chain error = %v", err)
	}
}

func TestIdentityJSON(t *testing.T) {
	id := MustIdentity(42161, "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var parsed Identity
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if parsed != id {
		t.Errorf("round trip = %s, want %s", parsed, id)
	}

	if err := json.Unmarshal([]byte(`{"chain_id":1,"address":"bad"}`), &parsed); err == nil {
		t.Error("Unmarshal should reject invalid addresses")
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xABC0000000000000000000000000000000000001", "0xabc0000000000000000000000000000000000001") {
		t.Error("SameAddress should ignore case")
	}
	if !SameAddress("native", NativePlaceholder) {
		t.Error("native placeholder should match sentinel")
	}
	if SameAddress("native", "0xabc0000000000000000000000000000000000001") {
		t.Error("native should never match a contract")
	}
}

func TestGetToken(t *testing.T) {
	tests := []struct {
		chainID  uint64
		symbol   string
		decimals uint8
		address  string
	}{
		{1, "USDC", 6, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
		{1, "usdt", 6, "0xdac17f958d2ee523a2206206994597c13d831ec7"},
		{1, "ETH", 18, NativeAddress},
		{137, "MATIC", 18, NativeAddress},
		{137, "WMATIC", 18, "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"},
		{42161, "DAI", 18, "0xda10009cbd5d07dd0cecc66161fc93d7c9000da1"},
	}

	for _, tt := range tests {
		token, ok := GetToken(tt.chainID, tt.symbol)
		if !ok {
			t.Errorf("GetToken(%d, %s) not found", tt.chainID, tt.symbol)
			continue
		}
		if token.Decimals != tt.decimals {
			t.Errorf("%s decimals = %d, want %d", tt.symbol, token.Decimals, tt.decimals)
		}
		if token.Address != tt.address {
			t.Errorf("%s address = %s, want %s", tt.symbol, token.Address, tt.address)
		}
		if token.ChainID != tt.chainID {
			t.Errorf("%s chain = %d, want %d", tt.symbol, token.ChainID, tt.chainID)
		}
	}

	if _, ok := GetToken(1, "XYZ"); ok {
		t.Error("GetToken(1, XYZ) should not be found")
	}
	if _, ok := GetToken(999, "USDC"); ok {
		t.Error("GetToken on unknown chain should not be found")
	}
}

func TestGetTokenByAddress(t *testing.T) {
	token, ok := GetTokenByAddress(1, "0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48")
	if !ok {
		t.Fatal("GetTokenByAddress should find USDC")
	}
	if token.Symbol != "USDC" {
		t.Errorf("Symbol = %s, want USDC", token.Symbol)
	}

	native, ok := GetTokenByAddress(137, NativePlaceholder)
	if !ok || native.Symbol != "MATIC" {
		t.Errorf("native placeholder on 137 = %v, %v", native, ok)
	}
}

func TestListTokensOrderAndFallback(t *testing.T) {
	tokens := ListTokens(1)
	if len(tokens) == 0 || tokens[0].Symbol != "ETH" {
		t.Fatalf("ListTokens(1) should start with ETH, got %v", tokens)
	}

	fallback := ChainTokens(999)
	if len(fallback) != len(tokens) {
		t.Errorf("ChainTokens(999) len = %d, want mainnet %d", len(fallback), len(tokens))
	}
	if len(ListTokens(999)) != 0 {
		t.Error("ListTokens(999) should be empty")
	}
}

func TestGetTokenDecimalsDefault(t *testing.T) {
	if got := GetTokenDecimals(1, "USDC"); got != 6 {
		t.Errorf("GetTokenDecimals(USDC) = %d, want 6", got)
	}
	if got := GetTokenDecimals(1, "UNKNOWN"); got != DefaultDecimals {
		t.Errorf("GetTokenDecimals(UNKNOWN) = %d, want %d", got, DefaultDecimals)
	}
}

func TestResolveSymbol(t *testing.T) {
	id, err := ResolveSymbol(1, "eth")
	if err != nil {
		t.Fatalf("ResolveSymbol() error = %v", err)
	}
	if id != NativeIdentity(1) {
		t.Errorf("ResolveSymbol(ETH) = %s, want native", id)
	}

	if _, err := ResolveSymbol(1, "XYZ"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("ResolveSymbol(XYZ) error = %v, want ErrUnknownToken", err)
	}
}

func TestIsNativeSymbol(t *testing.T) {
	for _, s := range []string{"ETH", "matic"} {
		if !IsNativeSymbol(s) {
			t.Errorf("IsNativeSymbol(%s) = false", s)
		}
	}
	if IsNativeSymbol("USDC") {
		t.Error("IsNativeSymbol(USDC) = true")
	}
}

func TestQuickAddTokens(t *testing.T) {
	tests := []struct {
		chainID uint64
		want    []string
	}{
		{1, []string{"ETH", "USDC", "DAI", "USDT"}},
		{137, []string{"MATIC", "USDC"}},
		{42161, []string{"ETH", "USDC"}},
		{999, nil},
	}

	for _, tt := range tests {
		got := QuickAddTokens(tt.chainID)
		if len(got) != len(tt.want) {
			t.Errorf("QuickAddTokens(%d) len = %d, want %d", tt.chainID, len(got), len(tt.want))
			continue
		}
		for i, token := range got {
			if token.Symbol != tt.want[i] {
				t.Errorf("QuickAddTokens(%d)[%d] = %s, want %s", tt.chainID, i, token.Symbol, tt.want[i])
			}
		}
	}
}
