// Package passphrase resolves keystore passphrases for the escrow CLI.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultEnv names the variable consulted before prompting.
const DefaultEnv = "PEERESCROW_KEYSTORE_PASSPHRASE"

var (
	errBlank    = errors.New("passphrase is blank")
	errMismatch = errors.New("passphrases do not match")
)

// Source yields one passphrase per process: the environment wins, otherwise
// the terminal is prompted. The first answer, good or bad, is remembered.
type Source struct {
	env     string
	label   string
	confirm bool

	// prompt reads a line without echo. Replaced in tests.
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

func NewSource(env string) *Source {
	return NewLabelledSource(env, "keystore")
}

// NewLabelledSource uses label, e.g. "seller keystore", in prompts and errors.
func NewLabelledSource(env, label string) *Source {
	if label = strings.TrimSpace(label); label == "" {
		label = "keystore"
	}
	return &Source{env: strings.TrimSpace(env), label: label, prompt: terminalPrompt}
}

// Confirming returns a copy that asks twice when prompting, for creating a
// new keystore.
func (s *Source) Confirming() *Source {
	return &Source{env: s.env, label: s.label, confirm: true, prompt: s.prompt}
}

// Get returns the passphrase, resolving it on first use.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.env != "" {
		if v, ok := os.LookupEnv(s.env); ok {
			if strings.TrimSpace(v) == "" {
				return "", fmt.Errorf("%s is set but empty", s.env)
			}
			return v, nil
		}
	}
	first, err := s.prompt(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if err != nil {
		return "", s.explain(err)
	}
	if strings.TrimSpace(first) == "" {
		return "", fmt.Errorf("%s: %w", s.label, errBlank)
	}
	if s.confirm {
		second, err := s.prompt(fmt.Sprintf("Repeat %s passphrase: ", s.label))
		if err != nil {
			return "", s.explain(err)
		}
		if second != first {
			return "", fmt.Errorf("%s: %w", s.label, errMismatch)
		}
	}
	return first, nil
}

func (s *Source) explain(err error) error {
	if errors.Is(err, errNoTerminal) && s.env != "" {
		return fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.env)
	}
	return fmt.Errorf("%s passphrase: %w", s.label, err)
}

var errNoTerminal = errors.New("no terminal available")

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
