// Package ed25519 is the only signer principals use: an Ed25519 keypair
// whose address is the principal recorded on chain.
package ed25519

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/gezibash/arc-provenance/pkg/identity"
)

// SeedSize is the length of a keyring seed.
const SeedSize = ed25519.SeedSize

// ErrSeedLength is returned for seeds that are not SeedSize bytes.
var ErrSeedLength = fmt.Errorf("%w: ed25519 seed must be %d bytes", identity.ErrInvalidEncoding, SeedSize)

// Keypair signs transitions and query requests on behalf of one principal.
type Keypair struct {
	key  ed25519.PrivateKey
	addr identity.Address
}

// Generate draws a fresh keypair from crypto/rand.
func Generate() (*Keypair, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (*Keypair, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed rebuilds the keypair stored in a keyring file.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, ErrSeedLength
	}
	kp := &Keypair{key: ed25519.NewKeyFromSeed(seed)}
	kp.addr = kp.PublicKey().Address()
	return kp, nil
}

// Seed returns a copy of the keypair's seed.
func (k *Keypair) Seed() []byte {
	return k.key.Seed()
}

// PublicKey returns the tagged public half. The bytes are a fresh copy.
func (k *Keypair) PublicKey() identity.PublicKey {
	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, k.key[SeedSize:])
	return identity.PublicKey{Algo: identity.AlgEd25519, Bytes: pub}
}

func (k *Keypair) Sign(payload []byte) (identity.Signature, error) {
	return identity.Signature{Algo: identity.AlgEd25519, Bytes: ed25519.Sign(k.key, payload)}, nil
}

// Verify reports whether sig is this keypair's signature over payload.
func (k *Keypair) Verify(payload []byte, sig identity.Signature) bool {
	return identity.Verify(k.PublicKey(), payload, sig)
}

// Address is the principal this keypair acts as.
func (k *Keypair) Address() identity.Address {
	return k.addr
}

func (k *Keypair) Algorithm() identity.Algorithm {
	return identity.AlgEd25519
}

// Wipe zeroes the private key. The keypair must not be used afterwards.
func (k *Keypair) Wipe() {
	clear(k.key)
}
