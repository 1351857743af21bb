// Package passphrase resolves operator secrets for the command line tools.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an environment variable or by
// prompting on the terminal. The first successful value is cached.
type Source struct {
	envVar string
	label  string

	// Seams for tests.
	stdinFD    int
	isTerminal func(fd int) bool
	readSecret func(fd int) ([]byte, error)
	prompt     io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting for
// label, for example "keystore passphrase" or "JWT signing secret".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "passphrase"
	}
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		label:      label,
		stdinFD:    int(os.Stdin.Fd()),
		isTerminal: term.IsTerminal,
		readSecret: term.ReadPassword,
		prompt:     os.Stderr,
	}
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// secrets are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !s.isTerminal(s.stdinFD) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		raw, err := s.readSecret(s.stdinFD)
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}
		value := string(raw)
		if strings.TrimSpace(value) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = value
	})

	return s.value, s.err
}
