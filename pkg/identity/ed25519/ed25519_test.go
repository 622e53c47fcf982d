package ed25519

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gezibash/arc-provenance/pkg/identity"
)

func TestFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, SeedSize)
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := FromSeed(seed)
	if a.Address() != b.Address() {
		t.Fatal("same seed produced different addresses")
	}
	if !bytes.Equal(a.Seed(), seed) {
		t.Fatal("Seed did not round-trip")
	}
}

func TestFromSeedLength(t *testing.T) {
	for _, n := range []int{0, 5, SeedSize + 1} {
		_, err := FromSeed(make([]byte, n))
		if !errors.Is(err, ErrSeedLength) {
			t.Fatalf("len %d: got %v", n, err)
		}
		if !errors.Is(err, identity.ErrInvalidEncoding) {
			t.Fatalf("len %d: not an encoding error", n)
		}
	}
}

func TestGenerateShortReader(t *testing.T) {
	if _, err := generate(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("expected error from short entropy source")
	}
	kp, err := generate(bytes.NewReader(bytes.Repeat([]byte{9}, SeedSize)))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := FromSeed(bytes.Repeat([]byte{9}, SeedSize))
	if kp.Address() != want.Address() {
		t.Fatal("generate did not use the reader's seed")
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := kp.Sign([]byte("msg"))
	if err != nil {
		t.Fatal(err)
	}
	if !kp.Verify([]byte("msg"), sig) {
		t.Fatal("signature did not verify")
	}
	if kp.Verify([]byte("other"), sig) {
		t.Fatal("signature verified over a different payload")
	}
	if kp.Address() != kp.PublicKey().Address() {
		t.Fatal("keypair address differs from public key address")
	}
}

func TestPublicKeyIsCopy(t *testing.T) {
	kp, _ := Generate()
	pk := kp.PublicKey()
	pk.Bytes[0] ^= 0xff
	if bytes.Equal(pk.Bytes, kp.PublicKey().Bytes) {
		t.Fatal("PublicKey exposed internal storage")
	}
}

func TestWipe(t *testing.T) {
	kp, _ := FromSeed(bytes.Repeat([]byte{3}, SeedSize))
	kp.Wipe()
	if !bytes.Equal(kp.Seed(), make([]byte, SeedSize)) {
		t.Fatal("seed not zeroed")
	}
}
