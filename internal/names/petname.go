package names

import (
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/gezibash/arc-provenance/internal/registry"
)

const unknown = "unknown"

// Petname derives a stable three-word name from raw key or address bytes
// using the BIP-39 word list, e.g. "leader-monkey-parrot".
func Petname(b []byte) string {
	if len(b) < 16 {
		return unknown
	}
	entropy := make([]byte, 32)
	copy(entropy, b)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return unknown
	}
	words := strings.Fields(mnemonic)
	if len(words) < 3 {
		return unknown
	}
	return words[0] + "-" + words[1] + "-" + words[2]
}

// PetnameOf returns the petname of a principal given in any form
// registry.ParsePrincipal accepts.
func PetnameOf(principal string) string {
	p, err := registry.ParsePrincipal(principal)
	if err != nil {
		return unknown
	}
	return Petname(p[:])
}
