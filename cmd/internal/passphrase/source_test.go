package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_PASSPHRASE", "correct horse")
	src := NewSource("ESCROW_TEST_PASSPHRASE")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("ESCROW_TEST_PASSPHRASE", "changed")
	again, _ := src.Get()
	if again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_PASSPHRASE", "   ")
	_, err := NewLabelledSource("ESCROW_TEST_PASSPHRASE", "seller keystore").Get()
	if err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty passphrase error, got %v", err)
	}
}

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(answers) == 0 {
			return "", errNoTerminal
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestSourceConfirmingPrompt(t *testing.T) {
	src := NewSource("").Confirming()
	src.prompt = scripted("hunter2", "hunter2")
	if got, err := src.Get(); err != nil || got != "hunter2" {
		t.Fatalf("get: %q %v", got, err)
	}

	mismatch := NewSource("").Confirming()
	mismatch.prompt = scripted("hunter2", "hunter3")
	if _, err := mismatch.Get(); !errors.Is(err, errMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestSourceWithoutTerminalNamesVariable(t *testing.T) {
	src := NewSource("ESCROW_TEST_UNSET_PASSPHRASE")
	src.prompt = scripted()
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROW_TEST_UNSET_PASSPHRASE") {
		t.Fatalf("expected hint naming the variable, got %v", err)
	}
}
