package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of every escrow address.
const AddressPrefix = "deed"

// AddressLength is the byte length of an account identifier.
const AddressLength = 20

var (
	// ErrInvalidAddress is returned when a string cannot be decoded into an
	// escrow address.
	ErrInvalidAddress = errors.New("crypto: invalid address")
)

// Address identifies a participant, an asset owner or a custody account.
type Address [AddressLength]byte

// ZeroAddress is the unset address. It is never a valid role holder.
var ZeroAddress Address

// BytesToAddress copies b into an address. It panics when b has the wrong
// length.
func BytesToAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	var out Address
	copy(out[:], b)
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText renders the bech32 form so addresses serialise cleanly in JSON
// and YAML.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the bech32 form.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 encoded address carrying the deed prefix.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(conv))
	}
	return BytesToAddress(conv), nil
}

// MustDecodeAddress is DecodeAddress for static inputs such as test fixtures.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// DeriveAddress hashes the supplied parts into a deterministic address. It is
// used for accounts that no key controls, such as escrow custody.
func DeriveAddress(parts ...[]byte) Address {
	hash := crypto.Keccak256(parts...)
	return BytesToAddress(hash[len(hash)-AddressLength:])
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the participant address controlled by the key.
func (k *PublicKey) Address() Address {
	return Address(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
