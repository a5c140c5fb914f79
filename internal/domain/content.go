package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentAddress is the Merkle root that uniquely identifies a payload
// anchored on the storage network. The all-zero value is the contract
// sentinel for "no metadata anchored".
type ContentAddress [32]byte

// ZeroContentAddress is the sentinel stored on-chain when anchoring failed
// or was skipped.
var ZeroContentAddress ContentAddress

// IsZero reports whether the address is the no-metadata sentinel.
func (a ContentAddress) IsZero() bool {
	return a == ZeroContentAddress
}

// Hex returns the 0x-prefixed hex form used on the wire and on-chain.
func (a ContentAddress) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a ContentAddress) String() string { return a.Hex() }

// MarshalText renders the address as 0x-prefixed hex.
func (a ContentAddress) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText parses a 0x-prefixed (or bare) 64-digit hex string.
func (a *ContentAddress) UnmarshalText(b []byte) error {
	parsed, err := ParseContentAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseContentAddress parses a hex content address, with or without the 0x
// prefix.
func ParseContentAddress(s string) (ContentAddress, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return ContentAddress{}, fmt.Errorf("domain: content address must be 32 bytes of hex, got %d chars", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ContentAddress{}, fmt.Errorf("domain: decode content address: %w", err)
	}
	var a ContentAddress
	copy(a[:], raw)
	return a, nil
}
