// Package client is a Go client for the provenance relay. Mutating calls and
// viewer-key reads are signed with the configured identity.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/gezibash/arc-provenance/pkg/reqauth"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

// ErrNoIdentity is returned by calls that must be signed when the client
// has no signer.
var ErrNoIdentity = errors.New("client: no signing identity configured")

// Error is a non-2xx relay response.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.Message, e.Status)
}

// KindOf returns the relay error kind carried by err, or "".
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

type clientConfig struct {
	signer identity.Signer
	http   *http.Client
	now    func() time.Time
}

// Option configures client behavior.
type Option func(*clientConfig)

// WithIdentity signs requests with signer.
func WithIdentity(signer identity.Signer) Option {
	return func(c *clientConfig) { c.signer = signer }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.http = hc }
}

// WithClock sets the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) { c.now = now }
}

// Client talks to one relay.
type Client struct {
	base   string
	signer identity.Signer
	http   *http.Client
	now    func() time.Time
}

// New creates a client for the relay at base, e.g. http://localhost:8545.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", base)
	}
	cfg := &clientConfig{http: http.DefaultClient, now: time.Now}
	for _, o := range opts {
		o(cfg)
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		signer: cfg.signer,
		http:   cfg.http,
		now:    cfg.now,
	}, nil
}

// Address returns the principal of the configured identity.
func (c *Client) Address() (identity.Address, error) {
	if c.signer == nil {
		return identity.Address{}, ErrNoIdentity
	}
	return c.signer.PublicKey().Address(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, signed bool, out any) error {
	resp, err := c.send(ctx, method, path, body, signed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send issues a request and returns the response if it is 2xx.
func (c *Client) send(ctx context.Context, method, path string, body any, signed bool) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.signer == nil {
			return nil, ErrNoIdentity
		}
		if err := reqauth.Sign(req, payload, c.signer, c.now()); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &Error{Status: resp.StatusCode}
	var we wire.Error
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&we); err == nil {
		apiErr.Kind, apiErr.Message = we.Error, we.Message
	} else {
		apiErr.Kind = http.StatusText(resp.StatusCode)
	}
	return nil, apiErr
}

// Submit sends a transition with an explicit nonce.
func (c *Client) Submit(ctx context.Context, req wire.TransitionRequest) (*wire.Receipt, error) {
	var rc wire.Receipt
	if err := c.do(ctx, http.MethodPost, "/v1/transitions", req, true, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// SubmitNext fills in the caller's next nonce and submits.
func (c *Client) SubmitNext(ctx context.Context, req wire.TransitionRequest) (*wire.Receipt, error) {
	addr, err := c.Address()
	if err != nil {
		return nil, err
	}
	n, err := c.Nonce(ctx, addr.String())
	if err != nil {
		return nil, err
	}
	req.Nonce = n.Nonce + 1
	return c.Submit(ctx, req)
}

// GrantRole grants role to account.
func (c *Client) GrantRole(ctx context.Context, role, account string) (*wire.Receipt, error) {
	return c.SubmitNext(ctx, wire.TransitionRequest{Op: wire.OpGrantRole, Role: role, Account: account})
}

// RevokeRole revokes role from account.
func (c *Client) RevokeRole(ctx context.Context, role, account string) (*wire.Receipt, error) {
	return c.SubmitNext(ctx, wire.TransitionRequest{Op: wire.OpRevokeRole, Role: role, Account: account})
}

// RegisterDocument registers hash for owner with an optional pointer.
func (c *Client) RegisterDocument(ctx context.Context, owner, hash, pointer string) (*wire.Receipt, error) {
	return c.SubmitNext(ctx, wire.TransitionRequest{Op: wire.OpRegisterDocumentFor, Owner: owner, Hash: hash, Pointer: pointer})
}

// GrantAccess grants viewer access to hash, storing keyBlob.
func (c *Client) GrantAccess(ctx context.Context, hash, viewer string, keyBlob []byte) (*wire.Receipt, error) {
	return c.SubmitNext(ctx, wire.TransitionRequest{Op: wire.OpGrantAccess, Hash: hash, Viewer: viewer, KeyBlob: keyBlob})
}

// RevokeAccess revokes viewer's access to hash.
func (c *Client) RevokeAccess(ctx context.Context, hash, viewer string) (*wire.Receipt, error) {
	return c.SubmitNext(ctx, wire.TransitionRequest{Op: wire.OpRevokeAccess, Hash: hash, Viewer: viewer})
}

// RoleMembers lists the holders of role.
func (c *Client) RoleMembers(ctx context.Context, role string) (*wire.RoleMembers, error) {
	var out wire.RoleMembers
	if err := c.do(ctx, http.MethodGet, "/v1/roles/"+url.PathEscape(role)+"/members", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HasRole reports whether principal holds role.
func (c *Client) HasRole(ctx context.Context, role, principal string) (bool, error) {
	var out wire.RoleCheck
	path := "/v1/roles/" + url.PathEscape(role) + "/members/" + url.PathEscape(principal)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return false, err
	}
	return out.HasRole, nil
}

// Document returns the record for hash.
func (c *Client) Document(ctx context.Context, hash string) (*wire.Document, error) {
	var out wire.Document
	if err := c.do(ctx, http.MethodGet, "/v1/documents/"+url.PathEscape(hash), nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify reports whether hash is registered.
func (c *Client) Verify(ctx context.Context, hash string) (bool, error) {
	var out wire.Verification
	if err := c.do(ctx, http.MethodGet, "/v1/documents/"+url.PathEscape(hash)+"/verify", nil, false, &out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

// DocumentsByOwner lists owner's hashes in registration order.
func (c *Client) DocumentsByOwner(ctx context.Context, owner string) ([]string, error) {
	var out wire.OwnerDocuments
	if err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(owner)+"/documents", nil, false, &out); err != nil {
		return nil, err
	}
	return out.Hashes, nil
}

// CanView reports whether viewer is granted access to hash.
func (c *Client) CanView(ctx context.Context, hash, viewer string) (bool, error) {
	var out wire.AccessCheck
	path := "/v1/documents/" + url.PathEscape(hash) + "/viewers/" + url.PathEscape(viewer)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// ViewerKey fetches the key blob stored for viewer. The request is signed;
// the relay only answers the viewer, the owner or an issuer.
func (c *Client) ViewerKey(ctx context.Context, hash, viewer string) ([]byte, error) {
	var out wire.ViewerKey
	path := "/v1/documents/" + url.PathEscape(hash) + "/viewers/" + url.PathEscape(viewer) + "/key"
	if err := c.do(ctx, http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return out.KeyBlob, nil
}

// Nonce returns principal's last committed nonce.
func (c *Client) Nonce(ctx context.Context, principal string) (*wire.Nonce, error) {
	var out wire.Nonce
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(principal)+"/nonce", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns a page of the event log after the given height.
func (c *Client) Events(ctx context.Context, after uint64, limit int) (*wire.Events, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out wire.Events
	if err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream follows live events matching filter, calling fn for each until ctx
// ends, fn returns an error, or the relay closes the stream.
func (c *Client) Stream(ctx context.Context, filter string, fn func(wire.StreamRecord) error) error {
	path := "/v1/events/stream"
	if filter != "" {
		path += "?" + url.Values{"filter": {filter}}.Encode()
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec wire.StreamRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode stream record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return ctx.Err()
}

// Status returns the relay's node status.
func (c *Client) Status(ctx context.Context) (*wire.Status, error) {
	var out wire.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
