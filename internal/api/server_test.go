package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
	"github.com/gezibash/arc-provenance/pkg/identity/ed25519"
	"github.com/gezibash/arc-provenance/pkg/reqauth"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

var now = time.Unix(1_700_000_000, 0)

type testEnv struct {
	srv     *Server
	seq     *sequencer.Sequencer
	metrics *observability.Metrics
	admin   *ed25519.Keypair
}

func newTestEnv(t *testing.T, cfg Config, genesis bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	metrics := observability.NewMetrics()
	store := statestore.New(memory.New(), metrics)
	machine, err := store.Load(ctx)
	require.NoError(t, err)
	f, err := feed.New(feed.Config{}, metrics)
	require.NoError(t, err)
	seq, err := sequencer.New(ctx, machine, store, sequencer.Options{
		Publisher: f,
		Metrics:   metrics,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Close()
		_ = seq.Close()
		_ = store.Close()
	})

	admin, err := ed25519.Generate()
	require.NoError(t, err)
	if genesis {
		_, err := seq.Genesis(ctx, registry.Principal(admin.Address()))
		require.NoError(t, err)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return now }
	}
	return &testEnv{srv: New(seq, store, f, metrics, cfg), seq: seq, metrics: metrics, admin: admin}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	return w
}

func signedRequest(t *testing.T, kp *ed25519.Keypair, method, target string, body []byte) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, reqauth.Sign(r, body, kp, now))
	return r
}

func submitBody(t *testing.T, req wire.TransitionRequest) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) wire.Error {
	t.Helper()
	var e wire.Error
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e), "body %s", w.Body.String())
	return e
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, w.Code, "body %s", w.Body.String())
	e := decodeError(t, w)
	assert.Equal(t, kind, e.Error, "message %q", e.Message)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{badRequestf("nope"), 400, "InvalidArgument"},
		{&http.MaxBytesError{Limit: 1}, 400, "InvalidArgument"},
		{fmt.Errorf("subscribe: %w", feed.ErrInvalidFilter), 400, "InvalidArgument"},
		{sequencer.ErrGenesisReserved, 400, "InvalidArgument"},
		{sequencer.ErrBadNonce, 409, wire.KindBadNonce},
		{reqauth.ErrSkew, 401, wire.KindUnauthorized},
		{reqauth.ErrSignature, 401, wire.KindUnauthorized},
		{sequencer.ErrClosed, 503, wire.KindUnavailable},
		{context.Canceled, 503, wire.KindUnavailable},
		{registry.ErrAccessDenied, 403, "AccessDenied"},
		{registry.ErrNotOwnerOrIssuer, 403, "NotOwnerOrIssuer"},
		{registry.ErrForbidden, 403, "Forbidden"},
		{registry.ErrNotFound, 404, "NotFound"},
		{registry.ErrAlreadyRegistered, 409, "AlreadyRegistered"},
		{registry.ErrAlreadyInitialized, 409, "AlreadyInitialized"},
		{registry.ErrNotInitialized, 503, "NotInitialized"},
		{errors.New("disk on fire"), 500, wire.KindInternal},
	}
	for _, tt := range tests {
		status, kind := classify(tt.err)
		assert.Equal(t, tt.status, status, "classify(%v)", tt.err)
		assert.Equal(t, tt.kind, kind, "classify(%v)", tt.err)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, Config{}, true)

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(HeaderRequestID, "3b241101-e2bb-4255-8caf-4136c566a962")
	assert.Equal(t, "3b241101-e2bb-4255-8caf-4136c566a962", env.do(r).Header().Get(HeaderRequestID))

	r = httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(HeaderRequestID, "not-a-uuid")
	got := env.do(r).Header().Get(HeaderRequestID)
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "not-a-uuid", got)
}

func TestSubmitAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	body := submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 1, Role: "ISSUER", Account: "0x" + strings.Repeat("11", 20)})

	r := httptest.NewRequest("POST", "/v1/transitions", bytes.NewReader(body))
	expectError(t, env.do(r), 401, wire.KindUnauthorized)

	r = signedRequest(t, env.admin, "POST", "/v1/transitions", body)
	r.Body = http.NoBody
	expectError(t, env.do(r), 401, wire.KindUnauthorized)

	w := env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", body))
	require.Equal(t, http.StatusOK, w.Code, "body %s", w.Body.String())
	var rc wire.Receipt
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rc))
	assert.Equal(t, uint64(2), rc.Height)
	assert.Equal(t, env.admin.Address().String(), rc.Caller)
	assert.Equal(t, now.Unix(), rc.Timestamp)
}

func TestSubmitClockSkew(t *testing.T) {
	env := newTestEnv(t, Config{
		ClockSkew: time.Minute,
		Now:       func() time.Time { return now.Add(2 * time.Minute) },
	}, true)
	body := submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 1, Role: "ISSUER", Account: "0x" + strings.Repeat("11", 20)})
	expectError(t, env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", body)), 401, wire.KindUnauthorized)
}

func TestSubmitRejectsMalformed(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 256}, true)

	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"op":"grantRole","nonce":1,"colour":"red"}`},
		{"unknown op", `{"op":"mint","nonce":1}`},
		{"genesis op", `{"op":"genesis","nonce":1}`},
		{"bad account", `{"op":"grantRole","nonce":1,"role":"ISSUER","account":"0xzz"}`},
		{"not json", `grant please`},
		{"too large", `{"op":"registerDocumentFor","nonce":1,"pointer":"` + strings.Repeat("p", 300) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", []byte(tt.body)))
			expectError(t, w, 400, "InvalidArgument")
		})
	}
}

func TestSubmitRegistryRejections(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	stranger, err := ed25519.Generate()
	require.NoError(t, err)
	account := stranger.Address().String()

	body := submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 1, Role: "ISSUER", Account: account})
	expectError(t, env.do(signedRequest(t, stranger, "POST", "/v1/transitions", body)), 403, "AccessDenied")

	body = submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 2, Role: "ISSUER", Account: account})
	expectError(t, env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", body)), 409, wire.KindBadNonce)

	// Neither rejection consumed a nonce.
	body = submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 1, Role: "ISSUER", Account: account})
	w := env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", body))
	require.Equal(t, http.StatusOK, w.Code, "body %s", w.Body.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("grantRole", "AccessDenied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("grantRole", "ok")))
}

func TestSubmitBeforeGenesis(t *testing.T) {
	env := newTestEnv(t, Config{}, false)
	body := submitBody(t, wire.TransitionRequest{Op: wire.OpGrantRole, Nonce: 1, Role: "ISSUER", Account: "0x" + strings.Repeat("11", 20)})
	expectError(t, env.do(signedRequest(t, env.admin, "POST", "/v1/transitions", body)), 503, "NotInitialized")

	w := env.do(httptest.NewRequest("GET", "/v1/status", nil))
	var st wire.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.False(t, st.Initialized)
	assert.Zero(t, st.Height)
}

func TestViewerKeyAuthorization(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	ctx := context.Background()
	keys := make([]*ed25519.Keypair, 3)
	for i := range keys {
		kp, err := ed25519.Generate()
		require.NoError(t, err)
		keys[i] = kp
	}
	issuer, owner, viewer := keys[0], keys[1], keys[2]
	p := func(kp *ed25519.Keypair) registry.Principal { return registry.Principal(kp.Address()) }
	hash := registry.HashOf([]byte("deed"))

	steps := []sequencer.Request{
		{Caller: p(env.admin), Nonce: 1, Transition: registry.Transition{Op: registry.OpGrantRole, Role: registry.RoleIssuer, Account: p(issuer)}},
		{Caller: p(issuer), Nonce: 1, Transition: registry.Transition{Op: registry.OpRegisterDocumentFor, Owner: p(owner), Hash: hash}},
		{Caller: p(owner), Nonce: 1, Transition: registry.Transition{Op: registry.OpGrantAccess, Hash: hash, Viewer: p(viewer), KeyBlob: []byte("sealed")}},
	}
	for _, req := range steps {
		_, err := env.seq.Submit(ctx, req)
		require.NoError(t, err, "%s", req.Transition.Op)
	}

	target := "/v1/documents/" + hash.String() + "/viewers/" + p(viewer).String() + "/key"
	for _, kp := range []*ed25519.Keypair{viewer, owner, issuer} {
		w := env.do(signedRequest(t, kp, "GET", target, nil))
		require.Equal(t, http.StatusOK, w.Code, "body %s", w.Body.String())
		var vk wire.ViewerKey
		require.NoError(t, json.NewDecoder(w.Body).Decode(&vk))
		assert.Equal(t, "sealed", string(vk.KeyBlob))
	}

	expectError(t, env.do(signedRequest(t, env.admin, "GET", target, nil)), 403, "Forbidden")
	expectError(t, env.do(httptest.NewRequest("GET", target, nil)), 401, wire.KindUnauthorized)
}

func TestReadValidation(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	tests := []struct {
		target string
		status int
		kind   string
	}{
		{"/v1/roles/not-a-role!/members", 400, "InvalidArgument"},
		{"/v1/roles/ISSUER/members/0x12", 400, "InvalidArgument"},
		{"/v1/documents/0x12", 400, "InvalidArgument"},
		{"/v1/documents/" + registry.HashOf([]byte("x")).String(), 404, "NotFound"},
		{"/v1/events?after=minus", 400, "InvalidArgument"},
		{"/v1/events?limit=0", 400, "InvalidArgument"},
		{"/v1/nowhere", 404, "NotFound"},
	}
	for _, tt := range tests {
		expectError(t, env.do(httptest.NewRequest("GET", tt.target, nil)), tt.status, tt.kind)
	}
}

func TestRoleQueries(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	admin := env.admin.Address().String()

	w := env.do(httptest.NewRequest("GET", "/v1/roles/admin/members", nil))
	var members wire.RoleMembers
	require.NoError(t, json.NewDecoder(w.Body).Decode(&members))
	assert.Equal(t, "ADMIN", members.Role)
	assert.Equal(t, []string{admin}, members.Members)

	w = env.do(httptest.NewRequest("GET", "/v1/roles/ISSUER/members/"+admin, nil))
	var check wire.RoleCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&check))
	assert.False(t, check.HasRole)
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	for i := 0; i < 2; i++ {
		env.do(httptest.NewRequest("GET", "/v1/documents/"+registry.HashOf([]byte{byte(i)}).String()+"/verify", nil))
	}
	got := testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/v1/documents/{hash}/verify", "200"))
	assert.Equal(t, 2.0, got)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	ts := httptest.NewServer(env.srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	target := ts.URL + "/v1/events/stream?filter=" + url.QueryEscape(`type == "DocumentRegistered"`)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	// Headers are flushed after the subscription exists, so both commits
	// below reach the feed while the stream is open.
	issuer, err := ed25519.Generate()
	require.NoError(t, err)
	owner, err := ed25519.Generate()
	require.NoError(t, err)
	hash := registry.HashOf([]byte("deed"))
	steps := []sequencer.Request{
		{Caller: registry.Principal(env.admin.Address()), Nonce: 1, Transition: registry.Transition{Op: registry.OpGrantRole, Role: registry.RoleIssuer, Account: registry.Principal(issuer.Address())}},
		{Caller: registry.Principal(issuer.Address()), Nonce: 1, Transition: registry.Transition{Op: registry.OpRegisterDocumentFor, Owner: registry.Principal(owner.Address()), Hash: hash, Pointer: "ipfs://deed"}},
	}
	for _, r := range steps {
		_, err := env.seq.Submit(ctx, r)
		require.NoError(t, err, "%s", r.Transition.Op)
	}

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan(), "stream ended: %v", sc.Err())
	var rec wire.StreamRecord
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line %s", sc.Text())
	assert.Equal(t, "DocumentRegistered", rec.Event.Type)
	assert.Equal(t, "registerDocumentFor", rec.Op)
	assert.Equal(t, hash.String(), rec.Event.Hash)
	assert.Equal(t, "ipfs://deed", rec.Event.Pointer)
	assert.EqualValues(t, 3, rec.Height)
}

func TestEventStreamRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	target := "/v1/events/stream?filter=" + url.QueryEscape("type ==")
	expectError(t, env.do(httptest.NewRequest("GET", target, nil)), 400, "InvalidArgument")
	assert.Zero(t, env.srv.feed.Len())
}
