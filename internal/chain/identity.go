package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the sentinel address of a chain's native asset.
const NativeAddress = "native"

// NativePlaceholder is the address wallets and routers commonly use for the
// native asset. It is accepted as an alias of NativeAddress.
const NativePlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Identity errors
var (
	ErrInvalidAddress = errors.New("invalid token address")
	ErrInvalidChainID = errors.New("invalid chain id")
)

// Identity is the canonical key of a token: a chain ID plus either a
// lower-cased contract address or the native sentinel. The zero value is
// not a valid identity. Identities are comparable and usable as map keys.
type Identity struct {
	chainID uint64
	address string
}

// NewIdentity validates and canonicalizes (chainID, address).
func NewIdentity(chainID uint64, address string) (Identity, error) {
	if chainID == 0 {
		return Identity{}, ErrInvalidChainID
	}
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Identity{}, err
	}
	return Identity{chainID: chainID, address: addr}, nil
}

// MustIdentity is like NewIdentity but panics on invalid input. It is meant
// for package-level tables.
func MustIdentity(chainID uint64, address string) Identity {
	id, err := NewIdentity(chainID, address)
	if err != nil {
		panic(err)
	}
	return id
}

// NativeIdentity returns the identity of the chain's native asset.
func NativeIdentity(chainID uint64) Identity {
	return Identity{chainID: chainID, address: NativeAddress}
}

// NormalizeAddress returns the canonical form of a token address: the native
// sentinel, or a 0x-prefixed lower-case hex address.
func NormalizeAddress(address string) (string, error) {
	a := strings.TrimSpace(address)
	if strings.EqualFold(a, NativeAddress) || strings.EqualFold(a, NativePlaceholder) {
		return NativeAddress, nil
	}
	if !common.IsHexAddress(a) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(common.HexToAddress(a).Hex()), nil
}

// SameAddress reports whether two addresses denote the same token,
// ignoring case.
func SameAddress(a, b string) bool {
	na, errA := NormalizeAddress(a)
	nb, errB := NormalizeAddress(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return na == nb
}

// ChainID returns the identity's chain.
func (i Identity) ChainID() uint64 { return i.chainID }

// Address returns the canonical lower-case address or NativeAddress.
func (i Identity) Address() string { return i.address }

// IsNative reports whether the identity denotes the native asset.
func (i Identity) IsNative() bool { return i.address == NativeAddress }

// IsZero reports whether i is the zero value.
func (i Identity) IsZero() bool { return i.chainID == 0 && i.address == "" }

// Equal reports whether i and o identify the same token.
func (i Identity) Equal(o Identity) bool {
	return i.chainID == o.chainID && i.address == o.address
}

// Checksum returns the EIP-55 address, or NativeAddress.
func (i Identity) Checksum() string {
	if i.IsNative() || i.address == "" {
		return i.address
	}
	return common.HexToAddress(i.address).Hex()
}

// String renders the identity as "<chainID>:<address>".
func (i Identity) String() string {
	return strconv.FormatUint(i.chainID, 10) + ":" + i.address
}

// ParseIdentity parses the String form.
func ParseIdentity(s string) (Identity, error) {
	chainStr, addr, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("invalid identity %q", s)
	}
	chainID, err := strconv.ParseUint(chainStr, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidChainID, chainStr)
	}
	return NewIdentity(chainID, addr)
}

type identityJSON struct {
	ChainID uint64 `json:"chain_id"`
	Address string `json:"address"`
}

// MarshalJSON implements json.Marshaler.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{ChainID: i.chainID, Address: i.address})
}

// UnmarshalJSON implements json.Unmarshaler and canonicalizes the input.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := NewIdentity(raw.ChainID, raw.Address)
	if err != nil {
		return err
	}
	*i = id
	return nil
}
