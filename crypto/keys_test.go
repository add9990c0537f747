package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	encoded := FormatAddress(raw)
	if !strings.HasPrefix(encoded, "esc1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != raw {
		t.Fatalf("round trip mismatch: %x != %x", parsed, raw)
	}
}

func TestParseAddressAcceptsHex(t *testing.T) {
	parsed, err := ParseAddress("0x0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed[0] != 0x01 || parsed[19] != 0x14 {
		t.Fatalf("unexpected bytes %x", parsed)
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected short hex address to fail")
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected empty address to fail")
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(EscrowPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "caller.json")
	if err := SaveToKeystore(path, key, "pass", LightKeystore); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
