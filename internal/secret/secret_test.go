package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	box := New("test-passphrase")

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "bot token", plaintext: "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"},
		{name: "empty string", plaintext: ""},
		{name: "unicode", plaintext: "токен 🔑"},
		{name: "special characters", plaintext: "!@#$%^&*()_+-=[]{}|;:',.<>?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := box.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if !IsSealed(sealed) {
				t.Errorf("Seal() = %q, want %q prefix", sealed, Prefix)
			}
			if tt.plaintext != "" && strings.Contains(sealed, tt.plaintext) {
				t.Error("sealed value contains the plaintext")
			}

			got, err := box.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSeal_UniqueOutput(t *testing.T) {
	box := New("p")
	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	if a == b {
		t.Error("sealing the same value twice produced identical output")
	}
}

func TestOpen_Errors(t *testing.T) {
	sealed, err := New("right").Seal("token")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		box     *Box
		value   string
		wantErr error
	}{
		{name: "wrong passphrase", box: New("wrong"), value: sealed, wantErr: ErrDecrypt},
		{name: "no passphrase", box: New(""), value: sealed, wantErr: ErrNoPassphrase},
		{name: "bad base64", box: New("right"), value: Prefix + "%%%", wantErr: ErrDecrypt},
		{name: "truncated", box: New("right"), value: Prefix + "AAAA", wantErr: ErrDecrypt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.Open(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_PlainValuePassesThrough(t *testing.T) {
	for _, box := range []*Box{New(""), New("p")} {
		got, err := box.Open("plain-token")
		if err != nil || got != "plain-token" {
			t.Errorf("Open(plain) = %q, %v", got, err)
		}
	}
}

func TestSeal_NoPassphrase(t *testing.T) {
	if _, err := New("").Seal("x"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("Seal() error = %v, want ErrNoPassphrase", err)
	}
}

func TestOpenAll(t *testing.T) {
	box := New("p")
	sealed, _ := box.Seal("secret-token")
	token, chat := sealed, "-100123"

	if err := box.OpenAll(&token, &chat); err != nil {
		t.Fatalf("OpenAll() error = %v", err)
	}
	if token != "secret-token" || chat != "-100123" {
		t.Errorf("OpenAll() = %q, %q", token, chat)
	}

	bad := Prefix + "AAAA"
	if err := box.OpenAll(&bad); err == nil {
		t.Error("OpenAll() with corrupt value should fail")
	}
}
