package passphrase

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "hunter2")
	src := NewSource("ESCROW_TEST_SECRET", "JWT signing secret")
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal consulted despite env var")
		return false
	}
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("got %q", got)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "   ")
	if _, err := NewSource("ESCROW_TEST_SECRET", "").Get(); err == nil {
		t.Fatalf("expected error for blank env value")
	}
}

func TestSourceRequiresTerminal(t *testing.T) {
	src := NewSource("ESCROW_TEST_SECRET_UNSET", "keystore passphrase")
	src.isTerminal = func(int) bool { return false }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROW_TEST_SECRET_UNSET") {
		t.Fatalf("expected env hint, got %v", err)
	}
}

func TestSourcePromptsAndCaches(t *testing.T) {
	var prompt bytes.Buffer
	calls := 0
	src := NewSource("", "keystore passphrase")
	src.prompt = &prompt
	src.isTerminal = func(int) bool { return true }
	src.readSecret = func(int) ([]byte, error) {
		calls++
		return []byte("correct horse"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "correct horse" {
			t.Fatalf("got %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
	if !strings.Contains(prompt.String(), "Enter keystore passphrase") {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
}

func TestSourceRejectsEmptyPrompt(t *testing.T) {
	src := NewSource("", "")
	src.prompt = &bytes.Buffer{}
	src.isTerminal = func(int) bool { return true }
	src.readSecret = func(int) ([]byte, error) { return []byte(" "), nil }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected empty secret error")
	}

	failing := NewSource("", "")
	failing.prompt = &bytes.Buffer{}
	failing.isTerminal = func(int) bool { return true }
	failing.readSecret = func(int) ([]byte, error) { return nil, errors.New("tty gone") }
	if _, err := failing.Get(); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("expected read error, got %v", err)
	}
}
