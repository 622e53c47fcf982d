// Package identity provides algorithm-tagged public-key identity primitives
// and the address derivation used to name principals.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Algorithm identifies a signing algorithm.
type Algorithm string

const (
	AlgEd25519 Algorithm = "ed25519"
)

// PublicKey is an algorithm-tagged public key.
type PublicKey struct {
	Algo  Algorithm
	Bytes []byte
}

// Signature is an algorithm-tagged signature.
type Signature struct {
	Algo  Algorithm
	Bytes []byte
}

// Signer represents a private key capable of signing.
type Signer interface {
	PublicKey() PublicKey
	Sign(payload []byte) (Signature, error)
	Algorithm() Algorithm
}

// Provider loads or generates a signer.
type Provider interface {
	Load(ctx context.Context) (Signer, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (Signer, error)

// Load implements Provider.
func (f ProviderFunc) Load(ctx context.Context) (Signer, error) {
	return f(ctx)
}

var (
	// ErrUnknownAlgorithm indicates an unknown algorithm.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrInvalidEncoding indicates an invalid encoded key/signature.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// AddressSize is the length of a derived address.
const AddressSize = 20

// Address is the stable short name of a public key.
type Address [AddressSize]byte

// String returns the 0x-prefixed hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Address derives the key's address: the trailing 20 bytes of
// sha256(algo ":" key).
func (pk PublicKey) Address() Address {
	h := sha256.New()
	h.Write([]byte(normalAlgo(pk.Algo)))
	h.Write([]byte{':'})
	h.Write(pk.Bytes)
	sum := h.Sum(nil)

	var a Address
	copy(a[:], sum[len(sum)-AddressSize:])
	return a
}

// Validate checks that the key has a supported algorithm and length.
func (pk PublicKey) Validate() error {
	switch pk.Algo {
	case AlgEd25519, "":
		if len(pk.Bytes) != ed25519.PublicKeySize {
			return ErrInvalidEncoding
		}
		return nil
	default:
		return ErrUnknownAlgorithm
	}
}

// normalAlgo lowercases a, treating the empty tag as ed25519.
func normalAlgo(a Algorithm) Algorithm {
	if a == "" {
		return AlgEd25519
	}
	return Algorithm(strings.ToLower(string(a)))
}

func encodeTagged(a Algorithm, b []byte) string {
	return string(normalAlgo(a)) + ":" + hex.EncodeToString(b)
}

// EncodePublicKey renders pk as "algo:hex", the form accepted wherever a
// viewer key or genesis admin is configured.
func EncodePublicKey(pk PublicKey) string {
	return encodeTagged(pk.Algo, pk.Bytes)
}

// DecodePublicKey decodes a public key from "algo:hex".
// If no algorithm prefix is present, defaults to ed25519.
func DecodePublicKey(s string) (PublicKey, error) {
	algo, raw, err := decodeTagged(s)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey{Algo: algo, Bytes: raw}, nil
}

// TryDecodePublicKey attempts to decode a public key from a string.
// Returns (zero, false) if the string doesn't look like a public key or
// fails to decode. Use this when a string might be a key or a key name.
func TryDecodePublicKey(s string) (PublicKey, bool) {
	if !strings.Contains(s, ":") && len(s) < 64 {
		return PublicKey{}, false
	}
	pk, err := DecodePublicKey(s)
	if err != nil {
		return PublicKey{}, false
	}
	return pk, true
}

// EncodeSignature renders sig as "algo:hex" for request headers.
func EncodeSignature(sig Signature) string {
	return encodeTagged(sig.Algo, sig.Bytes)
}

// DecodeSignature decodes a signature from "algo:hex".
// If no algorithm prefix is present, defaults to ed25519.
func DecodeSignature(s string) (Signature, error) {
	algo, raw, err := decodeTagged(s)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Algo: algo, Bytes: raw}, nil
}

func decodeTagged(s string) (Algorithm, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, ErrInvalidEncoding
	}
	algo, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		algo = string(AlgEd25519)
		hexPart = s
	}
	algo = strings.ToLower(strings.TrimSpace(algo))
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return "", nil, ErrInvalidEncoding
	}
	return Algorithm(algo), raw, nil
}

// Verify reports whether sig is pub's signature over payload. An untagged
// key or signature is taken to be ed25519; mismatched tags never verify.
func Verify(pub PublicKey, payload []byte, sig Signature) bool {
	if normalAlgo(pub.Algo) != normalAlgo(sig.Algo) {
		return false
	}
	if normalAlgo(pub.Algo) != AlgEd25519 || len(pub.Bytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub.Bytes, payload, sig.Bytes)
}
