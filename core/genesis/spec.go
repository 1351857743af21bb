package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"deedescrow/crypto"
)

// GenesisSpec seeds a fresh data directory with balances, deeds and the
// initial listings.
type GenesisSpec struct {
	GenesisTime string            `yaml:"genesisTime"`
	Alloc       map[string]string `yaml:"alloc"` // addr -> amount
	Assets      []AssetSpec       `yaml:"assets"`
	Listings    []ListingSpec     `yaml:"listings"`

	genesisTimestamp time.Time
	allocations      []allocation
	raw              []byte
}

// AssetSpec mints one deed. When ApproveCustody is set the owner authorises
// escrow custody to move it, which listing requires.
type AssetSpec struct {
	Owner          string `yaml:"owner"`
	URI            string `yaml:"uri"`
	ApproveCustody bool   `yaml:"approveCustody"`

	owner crypto.Address
}

// ListingSpec lists a genesis asset on behalf of the seller. Asset is the
// 1-based position in Assets, which equals the minted identifier on a fresh
// registry.
type ListingSpec struct {
	Asset           uint64 `yaml:"asset"`
	Buyer           string `yaml:"buyer"`
	PurchasePrice   string `yaml:"purchasePrice"`
	RequiredEarnest string `yaml:"requiredEarnest"`

	buyer   crypto.Address
	price   *big.Int
	earnest *big.Int
}

type allocation struct {
	addr   crypto.Address
	amount *big.Int
}

// LoadGenesisSpec reads and validates a YAML genesis file. Unknown fields are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates YAML genesis content.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	spec.raw = append([]byte(nil), raw...)
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	s.allocations = s.allocations[:0]
	for addrStr, amountStr := range s.Alloc {
		addr, err := crypto.DecodeAddress(addrStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		amount, err := parseAmountString(amountStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		s.allocations = append(s.allocations, allocation{addr: addr, amount: amount})
	}
	sortAllocations(s.allocations)

	for i := range s.Assets {
		a := &s.Assets[i]
		owner, err := crypto.DecodeAddress(a.Owner)
		if err != nil {
			return fmt.Errorf("asset[%d]: owner: %w", i, err)
		}
		a.owner = owner
	}

	listed := make(map[uint64]struct{}, len(s.Listings))
	for i := range s.Listings {
		l := &s.Listings[i]
		if l.Asset == 0 || l.Asset > uint64(len(s.Assets)) {
			return fmt.Errorf("listing[%d]: asset %d out of range", i, l.Asset)
		}
		if _, dup := listed[l.Asset]; dup {
			return fmt.Errorf("listing[%d]: asset %d listed twice", i, l.Asset)
		}
		listed[l.Asset] = struct{}{}
		if !s.Assets[l.Asset-1].ApproveCustody {
			return fmt.Errorf("listing[%d]: asset %d must set approveCustody", i, l.Asset)
		}
		buyer, err := crypto.DecodeAddress(l.Buyer)
		if err != nil {
			return fmt.Errorf("listing[%d]: buyer: %w", i, err)
		}
		l.buyer = buyer
		if l.price, err = parseAmountString(l.PurchasePrice); err != nil {
			return fmt.Errorf("listing[%d]: purchasePrice: %w", i, err)
		}
		if l.earnest, err = parseAmountString(l.RequiredEarnest); err != nil {
			return fmt.Errorf("listing[%d]: requiredEarnest: %w", i, err)
		}
		if l.earnest.Cmp(l.price) > 0 {
			return fmt.Errorf("listing[%d]: requiredEarnest exceeds purchasePrice", i)
		}
	}
	return nil
}

func sortAllocations(allocs []allocation) {
	sort.Slice(allocs, func(i, j int) bool {
		return bytes.Compare(allocs[i].addr[:], allocs[j].addr[:]) < 0
	})
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
