package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_PASS", "hunter2")
	src := NewSource("ESCROWCTL_TEST_PASS", WithInput(strings.NewReader("ignored\n")), AllowPiped())
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("got %q, %v", got, err)
	}
	t.Setenv("ESCROWCTL_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("passphrase should be cached, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_PASS", "   ")
	if _, err := NewSource("ESCROWCTL_TEST_PASS").Get(); err == nil {
		t.Fatalf("expected blank passphrase error")
	}
}

func TestSourceReadsPipedInput(t *testing.T) {
	src := NewSource("", WithInput(strings.NewReader("correct horse \r\nsecond line\n")), AllowPiped())
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse " {
		t.Fatalf("got %q", got)
	}

	noNewline := NewSource("", WithInput(strings.NewReader("battery")), AllowPiped())
	if got, err := noNewline.Get(); err != nil || got != "battery" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsPipedInputUnlessAllowed(t *testing.T) {
	src := NewSource("ESCROWCTL_UNSET_PASS", WithInput(strings.NewReader("secret\n")))
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROWCTL_UNSET_PASS") {
		t.Fatalf("expected hint naming the variable, got %v", err)
	}
}

func TestSourceRejectsBlankPipedInput(t *testing.T) {
	src := NewSource("", WithInput(strings.NewReader("  \n")), AllowPiped())
	if _, err := src.Get(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
