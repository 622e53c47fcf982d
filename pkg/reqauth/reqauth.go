// Package reqauth signs and verifies relay HTTP requests.
//
// A signed request carries the caller's algorithm-tagged public key, a unix
// timestamp, and a signature over
//
//	METHOD "\n" REQUEST_URI "\n" TIMESTAMP "\n" hex(sha256(body))
package reqauth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gezibash/arc-provenance/pkg/identity"
)

const (
	HeaderKey       = "X-Provenance-Key"
	HeaderTimestamp = "X-Provenance-Timestamp"
	HeaderSignature = "X-Provenance-Signature"
)

// DefaultMaxSkew bounds the difference between a request timestamp and the
// verifier's clock.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissing   = errors.New("reqauth: request is not signed")
	ErrKey       = errors.New("reqauth: invalid public key")
	ErrTimestamp = errors.New("reqauth: invalid timestamp")
	ErrSkew      = errors.New("reqauth: timestamp outside allowed skew")
	ErrSignature = errors.New("reqauth: signature does not verify")
)

// Payload builds the signed bytes.
func Payload(method, requestURI string, ts int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return fmt.Appendf(nil, "%s\n%s\n%d\n%s", method, requestURI, ts, hex.EncodeToString(sum[:]))
}

// Sign attaches authentication headers to r. body must be the exact request body.
func Sign(r *http.Request, body []byte, signer identity.Signer, now time.Time) error {
	ts := now.Unix()
	sig, err := signer.Sign(Payload(r.Method, r.URL.RequestURI(), ts, body))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Header.Set(HeaderKey, identity.EncodePublicKey(signer.PublicKey()))
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, identity.EncodeSignature(sig))
	return nil
}

// Signed reports whether r carries any authentication header.
func Signed(r *http.Request) bool {
	return r.Header.Get(HeaderKey) != "" || r.Header.Get(HeaderSignature) != ""
}

// Verifier checks request signatures.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verify authenticates r against body and returns the signer's key.
func (v Verifier) Verify(r *http.Request, body []byte) (identity.PublicKey, error) {
	keyHdr := r.Header.Get(HeaderKey)
	tsHdr := r.Header.Get(HeaderTimestamp)
	sigHdr := r.Header.Get(HeaderSignature)
	if keyHdr == "" || tsHdr == "" || sigHdr == "" {
		return identity.PublicKey{}, ErrMissing
	}

	pub, err := identity.DecodePublicKey(keyHdr)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("%w: %v", ErrKey, err)
	}
	if err := pub.Validate(); err != nil {
		return identity.PublicKey{}, fmt.Errorf("%w: %v", ErrKey, err)
	}

	ts, err := strconv.ParseInt(tsHdr, 10, 64)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("%w: %v", ErrTimestamp, err)
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	maxSkew := v.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if skew := now().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
		return identity.PublicKey{}, fmt.Errorf("%w: %s", ErrSkew, skew.Round(time.Second))
	}

	sig, err := identity.DecodeSignature(sigHdr)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if !identity.Verify(pub, Payload(r.Method, r.URL.RequestURI(), ts, body), sig) {
		return identity.PublicKey{}, ErrSignature
	}
	return pub, nil
}
