package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gezibash/arc-provenance/internal/keyring"
	"github.com/gezibash/arc-provenance/internal/names"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/gezibash/arc-provenance/pkg/identity/ed25519"
	"github.com/spf13/viper"
)

func testViper(t *testing.T) *viper.Viper {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	v := viper.New()
	v.Set("data_dir", t.TempDir())
	v.Set("server", "http://127.0.0.1:8545")
	return v
}

func TestRunCommand_validation(t *testing.T) {
	run := func(context.Context, *Session) error { return nil }
	tests := []struct {
		name string
		cfg  CommandConfig
		want string
	}{
		{"missing name", CommandConfig{Viper: viper.New(), Run: run}, "command name required"},
		{"missing viper", CommandConfig{Name: "x", Run: run}, "viper required"},
		{"missing run", CommandConfig{Name: "x", Viper: viper.New()}, "run function required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunCommand(context.Background(), tt.cfg)
			if err == nil || err.Error() != tt.want {
				t.Errorf("RunCommand() = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRunCommand_unsigned(t *testing.T) {
	v := testViper(t)
	v.Set("output", "json")

	var got *Session
	err := RunCommand(context.Background(), CommandConfig{
		Name:  "status",
		Viper: v,
		Run: func(ctx context.Context, s *Session) error {
			got = s
			if _, ok := ctx.Deadline(); ok {
				t.Error("unexpected deadline without Timeout")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RunCommand() = %v", err)
	}
	if got.Key != nil {
		t.Error("unsigned session loaded a key")
	}
	if got.Out.Format() != FormatJSON {
		t.Errorf("format = %q", got.Out.Format())
	}
	if got.Config.ResolvedServer() != "http://127.0.0.1:8545" {
		t.Errorf("server = %q", got.Config.ResolvedServer())
	}
	if _, err := os.Stat(filepath.Join(v.GetString("data_dir"), "log", "cli.log")); err != nil {
		t.Errorf("cli.log not created: %v", err)
	}
}

func TestRunCommand_signed(t *testing.T) {
	v := testViper(t)
	dataDir := v.GetString("data_dir")

	kr := keyring.New(dataDir)
	k, err := kr.Generate(context.Background(), "issuer")
	if err != nil {
		t.Fatal(err)
	}

	err = RunCommand(context.Background(), CommandConfig{
		Name:    "doc",
		Viper:   v,
		Signed:  true,
		Timeout: time.Second,
		Run: func(ctx context.Context, s *Session) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected deadline")
			}
			addr, err := s.Client.Address()
			if err != nil {
				return err
			}
			if addr != k.Keypair.Address() {
				t.Errorf("client address = %s, want %s", addr, k.Principal())
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RunCommand() = %v", err)
	}
}

func TestRunCommand_signedWithoutKey(t *testing.T) {
	v := testViper(t)
	err := RunCommand(context.Background(), CommandConfig{
		Name:   "doc",
		Viper:  v,
		Signed: true,
		Run:    func(context.Context, *Session) error { return nil },
	})
	if !errors.Is(err, keyring.ErrNoDefault) {
		t.Errorf("RunCommand() = %v, want ErrNoDefault", err)
	}
}

func TestOpen_badServer(t *testing.T) {
	v := testViper(t)
	v.Set("server", "localhost:8545")
	_, err := Open(context.Background(), v, "", false)
	if err == nil || !strings.Contains(err.Error(), "scheme") {
		t.Errorf("Open() = %v", err)
	}
}

func TestOpen_missingConfigFile(t *testing.T) {
	v := testViper(t)
	_, err := Open(context.Background(), v, filepath.Join(t.TempDir(), "nope.yaml"), false)
	if err == nil {
		t.Fatal("expected error for explicit missing config")
	}
}

func TestResolvePrincipal(t *testing.T) {
	kp, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr := kp.Address().String()
	pub := identity.EncodePublicKey(kp.PublicKey())

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{addr, addr, false},
		{strings.ToUpper(addr[2:]), addr, false},
		{pub, addr, false},
		{pub[len("ed25519:"):], addr, false},
		{"ed25519:abcd", "", true},
		{"0x1234", "", true},
		{"alice", "", true},
	}
	for _, tt := range tests {
		got, err := ResolvePrincipal(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolvePrincipal(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolvePrincipal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSelfLoadsKeyLazily(t *testing.T) {
	v := testViper(t)
	kr := keyring.New(v.GetString("data_dir"))
	k, err := kr.Generate(context.Background(), "me")
	if err != nil {
		t.Fatal(err)
	}

	s, err := Open(context.Background(), v, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	got, err := s.Self(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != k.Principal() {
		t.Errorf("Self() = %q, want %q", got, k.Principal())
	}
}

func TestSessionResolvesContacts(t *testing.T) {
	v := testViper(t)
	kp, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	pub := identity.EncodePublicKey(kp.PublicKey())
	addr := kp.Address().String()

	book := names.New(v.GetString("data_dir"))
	if _, err := book.Add("carol", pub); err != nil {
		t.Fatal(err)
	}
	plain := "0x" + strings.Repeat("0b", 20)
	if _, err := book.Add("dave", plain); err != nil {
		t.Fatal(err)
	}

	s, err := Open(context.Background(), v, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	got, err := s.Resolve("@carol")
	if err != nil || got != addr {
		t.Errorf("Resolve(@carol) = %q, %v; want %q", got, err, addr)
	}
	if _, err := s.Resolve("@nobody"); !errors.Is(err, names.ErrNotFound) {
		t.Errorf("Resolve(@nobody) error = %v, want ErrNotFound", err)
	}
	if got, err := s.Resolve(plain); err != nil || got != plain {
		t.Errorf("Resolve(address) = %q, %v", got, err)
	}

	if pk, ok := s.PublicKeyOf("@carol"); !ok || identity.EncodePublicKey(pk) != pub {
		t.Errorf("PublicKeyOf(@carol) = %v, %v", pk, ok)
	}
	if _, ok := s.PublicKeyOf("@dave"); ok {
		t.Error("PublicKeyOf(@dave) should have no key")
	}

	if got := s.Label(plain); got != "@dave" {
		t.Errorf("Label(contact) = %q, want @dave", got)
	}
	other := "0x" + strings.Repeat("0c", 20)
	if got := s.Label(other); got != names.PetnameOf(other) {
		t.Errorf("Label(stranger) = %q, want petname", got)
	}
}
