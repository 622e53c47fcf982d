// Package keyseal encrypts a document key to a viewer's ed25519 identity so
// it can be stored as an opaque key blob in the access ledger.
//
// Sealed format: version(1) || ephemeralPub(32) || nonce(24) || secretbox.
// The box key is sha256(X25519(eph, viewer) || ephemeralPub || viewerX25519),
// where the viewer's ed25519 key is mapped to Montgomery form.
package keyseal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/gezibash/arc-provenance/pkg/identity"
)

const (
	version   byte = 0x01
	keySize        = 32
	nonceSize      = 24
	headerLen      = 1 + keySize + nonceSize
)

var (
	// ErrUnsupported is returned for non-ed25519 recipients or unknown blob versions.
	ErrUnsupported = errors.New("keyseal: unsupported key or format")
	// ErrDecrypt is returned when a blob does not open with the given seed.
	ErrDecrypt = errors.New("keyseal: decryption failed")
)

// Seal encrypts key for the holder of viewer.
func Seal(key []byte, viewer identity.PublicKey) ([]byte, error) {
	return seal(rand.Reader, key, viewer)
}

func seal(rng io.Reader, key []byte, viewer identity.PublicKey) ([]byte, error) {
	if viewer.Algo != identity.AlgEd25519 {
		return nil, fmt.Errorf("%w: %s recipient", ErrUnsupported, viewer.Algo)
	}
	viewerX, err := PublicToX25519(viewer.Bytes)
	if err != nil {
		return nil, err
	}

	ephPriv := make([]byte, keySize)
	if _, err := io.ReadFull(rng, ephPriv); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive ephemeral key: %w", err)
	}
	boxKey, err := sharedKey(ephPriv, viewerX, ephPub, viewerX)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rng, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, headerLen+len(key)+secretbox.Overhead)
	out = append(out, version)
	out = append(out, ephPub...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, key, &nonce, &boxKey), nil
}

// Open decrypts a sealed blob with the viewer's ed25519 seed.
func Open(blob, seed []byte) ([]byte, error) {
	if len(blob) < headerLen+secretbox.Overhead {
		return nil, fmt.Errorf("%w: blob too short", ErrDecrypt)
	}
	if blob[0] != version {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupported, blob[0])
	}
	ephPub := blob[1 : 1+keySize]
	var nonce [nonceSize]byte
	copy(nonce[:], blob[1+keySize:headerLen])

	priv := SeedToX25519(seed)
	selfPub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive viewer key: %w", err)
	}
	boxKey, err := sharedKey(priv, ephPub, ephPub, selfPub)
	if err != nil {
		return nil, err
	}

	key, ok := secretbox.Open(nil, blob[headerLen:], &nonce, &boxKey)
	if !ok {
		return nil, ErrDecrypt
	}
	return key, nil
}

func sharedKey(priv, peer, ephPub, viewerX []byte) ([keySize]byte, error) {
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return [keySize]byte{}, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	h := sha256.New()
	h.Write(shared)
	h.Write(ephPub)
	h.Write(viewerX)
	var out [keySize]byte
	h.Sum(out[:0])
	return out, nil
}

// SeedToX25519 derives the X25519 private scalar matching an ed25519 seed.
func SeedToX25519(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:keySize]
}

// PublicToX25519 maps an ed25519 public key to its Montgomery form.
func PublicToX25519(pub []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key: %v", ErrUnsupported, err)
	}
	return p.BytesMontgomery(), nil
}
