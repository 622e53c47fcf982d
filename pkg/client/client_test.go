package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gezibash/arc-provenance/internal/api"
	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
	"github.com/gezibash/arc-provenance/pkg/client"
	"github.com/gezibash/arc-provenance/pkg/identity/ed25519"
	"github.com/gezibash/arc-provenance/pkg/keyseal"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

func newTestServer(t *testing.T) (string, *ed25519.Keypair) {
	t.Helper()
	ctx := context.Background()
	metrics := observability.NewMetrics()

	store := statestore.New(memory.New(), metrics)
	machine, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	f, err := feed.New(feed.Config{}, metrics)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := sequencer.New(ctx, machine, store, sequencer.Options{Publisher: f, Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}

	admin, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seq.Genesis(ctx, registry.Principal(admin.Address())); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(api.New(seq, store, f, metrics, api.Config{Backend: "memory", Version: "test"}))
	t.Cleanup(func() {
		_ = f.Close()
		ts.Close()
		_ = seq.Close()
		_ = store.Close()
	})
	return ts.URL, admin
}

func newClient(t *testing.T, url string, kp *ed25519.Keypair) *client.Client {
	t.Helper()
	var opts []client.Option
	if kp != nil {
		opts = append(opts, client.WithIdentity(kp))
	}
	c, err := client.New(url, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func generate(t *testing.T) *ed25519.Keypair {
	t.Helper()
	kp, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8545", "ftp://relay", "http://%zz"} {
		if _, err := client.New(u); err == nil {
			t.Errorf("New(%q) succeeded", u)
		}
	}
}

func TestDocumentLifecycle(t *testing.T) {
	url, adminKey := newTestServer(t)
	ctx := context.Background()
	issuerKey, ownerKey, viewerKey := generate(t), generate(t), generate(t)

	admin := newClient(t, url, adminKey)
	issuer := newClient(t, url, issuerKey)
	owner := newClient(t, url, ownerKey)
	viewer := newClient(t, url, viewerKey)

	issuerAddr := issuerKey.Address().String()
	ownerAddr := ownerKey.Address().String()
	viewerAddr := viewerKey.Address().String()

	rc, err := admin.GrantRole(ctx, "issuer", issuerAddr)
	if err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if rc.Height != 2 || len(rc.Events) != 1 || rc.Events[0].Type != "RoleGranted" {
		t.Fatalf("GrantRole receipt = %+v", rc)
	}
	if ok, err := admin.HasRole(ctx, "ISSUER", issuerAddr); err != nil || !ok {
		t.Fatalf("HasRole = %v, %v", ok, err)
	}

	hash := registry.HashOf([]byte("signed contract")).String()
	if _, err := issuer.RegisterDocument(ctx, ownerAddr, hash, "file:///contracts/1"); err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	doc, err := owner.Document(ctx, hash)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Owner != ownerAddr || doc.Issuer != issuerAddr || doc.Pointer != "file:///contracts/1" {
		t.Fatalf("Document = %+v", doc)
	}
	if ok, _ := owner.Verify(ctx, hash); !ok {
		t.Fatal("Verify = false")
	}
	hashes, err := owner.DocumentsByOwner(ctx, ownerAddr)
	if err != nil || len(hashes) != 1 || hashes[0] != hash {
		t.Fatalf("DocumentsByOwner = %v, %v", hashes, err)
	}

	secret := []byte("0123456789abcdef0123456789abcdef")
	blob, err := keyseal.Seal(secret, viewerKey.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.GrantAccess(ctx, hash, viewerAddr, blob); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if ok, _ := owner.CanView(ctx, hash, viewerAddr); !ok {
		t.Fatal("CanView = false after grant")
	}

	got, err := viewer.ViewerKey(ctx, hash, viewerAddr)
	if err != nil {
		t.Fatalf("ViewerKey: %v", err)
	}
	opened, err := keyseal.Open(got, viewerKey.Seed())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, secret) {
		t.Fatal("opened key differs")
	}

	if _, err := owner.RevokeAccess(ctx, hash, viewerAddr); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if ok, _ := owner.CanView(ctx, hash, viewerAddr); ok {
		t.Fatal("CanView = true after revoke")
	}

	n, err := owner.Nonce(ctx, ownerAddr)
	if err != nil || n.Nonce != 2 {
		t.Fatalf("owner nonce = %+v, %v", n, err)
	}

	st, err := admin.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Initialized || st.Height != 5 || st.Backend != "memory" || st.Version != "test" {
		t.Fatalf("Status = %+v", st)
	}
}

func TestErrors(t *testing.T) {
	url, adminKey := newTestServer(t)
	ctx := context.Background()
	stranger := generate(t)

	anon := newClient(t, url, nil)
	if _, err := anon.GrantRole(ctx, "ISSUER", stranger.Address().String()); !errors.Is(err, client.ErrNoIdentity) {
		t.Fatalf("unsigned submit: %v", err)
	}

	_, err := newClient(t, url, stranger).GrantRole(ctx, "ISSUER", stranger.Address().String())
	if client.KindOf(err) != "AccessDenied" {
		t.Fatalf("non-admin grant: %v", err)
	}
	var apiErr *client.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 403 {
		t.Fatalf("non-admin grant status: %v", err)
	}

	admin := newClient(t, url, adminKey)
	_, err = admin.Submit(ctx, wire.TransitionRequest{
		Op: wire.OpGrantRole, Nonce: 7, Role: "ISSUER", Account: stranger.Address().String(),
	})
	if client.KindOf(err) != wire.KindBadNonce {
		t.Fatalf("skipped nonce: %v", err)
	}

	missing := registry.HashOf([]byte("missing")).String()
	if _, err := admin.Document(ctx, missing); client.KindOf(err) != "NotFound" {
		t.Fatalf("missing document: %v", err)
	}
	if _, err := admin.Document(ctx, "0x1234"); client.KindOf(err) != "InvalidArgument" {
		t.Fatalf("short hash: %v", err)
	}
	if _, err := admin.ViewerKey(ctx, missing, stranger.Address().String()); client.KindOf(err) != "NotFound" {
		t.Fatalf("viewer key of missing document: %v", err)
	}
}

func TestEventsPaging(t *testing.T) {
	url, adminKey := newTestServer(t)
	ctx := context.Background()
	admin := newClient(t, url, adminKey)

	for i := 0; i < 3; i++ {
		if _, err := admin.GrantRole(ctx, "ISSUER", generate(t).Address().String()); err != nil {
			t.Fatal(err)
		}
	}

	page, err := admin.Events(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Entries[0].Op != "genesis" || page.Next != 2 {
		t.Fatalf("first page = %+v", page)
	}
	page, err = admin.Events(ctx, page.Next, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Entries[1].Height != 4 || page.Next != 4 {
		t.Fatalf("second page = %+v", page)
	}
	page, err = admin.Events(ctx, page.Next, 10)
	if err != nil || len(page.Entries) != 0 || page.Next != 4 {
		t.Fatalf("last page = %+v, %v", page, err)
	}
}

func TestStream(t *testing.T) {
	url, adminKey := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := newClient(t, url, adminKey)

	got := make(chan wire.StreamRecord, 4)
	done := make(chan error, 1)
	go func() {
		done <- admin.Stream(ctx, `type == "RoleGranted" && role == "ISSUER"`, func(rec wire.StreamRecord) error {
			got <- rec
			return nil
		})
	}()

	for {
		st, err := admin.Status(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Subscribers == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	account := generate(t).Address().String()
	if _, err := admin.GrantRole(ctx, "ISSUER", account); err != nil {
		t.Fatal(err)
	}

	select {
	case rec := <-got:
		if rec.Height != 2 || rec.Event.Account != account || rec.Op != "grantRole" {
			t.Fatalf("record = %+v", rec)
		}
	case <-ctx.Done():
		t.Fatal("no record received")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream returned %v", err)
	}
}

func TestStreamInvalidFilter(t *testing.T) {
	url, _ := newTestServer(t)
	c := newClient(t, url, nil)
	err := c.Stream(context.Background(), "not valid !!!", func(wire.StreamRecord) error { return nil })
	if client.KindOf(err) != "InvalidArgument" {
		t.Fatalf("Stream = %v", err)
	}
}
