package passphrase

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrEmpty is returned when the resolved passphrase is blank.
var ErrEmpty = errors.New("keystore passphrase cannot be empty")

// fdReader is satisfied by *os.File; only such readers can be terminals.
type fdReader interface {
	io.Reader
	Fd() uintptr
}

// Source resolves a keystore passphrase once and caches the outcome. The
// environment variable wins; otherwise a terminal input is prompted without
// echo, and a piped input is read up to the first newline when piping was
// allowed.
type Source struct {
	envVar string
	input  io.Reader
	prompt io.Writer
	piped  bool

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithInput replaces stdin as the passphrase input.
func WithInput(r io.Reader) Option { return func(s *Source) { s.input = r } }

// WithPrompt replaces stderr as the prompt destination.
func WithPrompt(w io.Writer) Option { return func(s *Source) { s.prompt = w } }

// AllowPiped accepts a non-terminal input such as `escrowctl keygen < pass.txt`.
func AllowPiped() Option { return func(s *Source) { s.piped = true } }

// NewSource returns a source that checks envVar before reading the input.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{envVar: strings.TrimSpace(envVar), input: os.Stdin, prompt: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase, resolving it on first use.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	var (
		raw string
		err error
	)
	switch f, ok := s.input.(fdReader); {
	case ok && term.IsTerminal(int(f.Fd())):
		raw, err = s.readTerminal(int(f.Fd()))
	case s.piped && s.input != nil:
		raw, err = readLine(s.input)
	case s.envVar != "":
		return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
	default:
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmpty
	}
	return raw, nil
}

func (s *Source) readTerminal(fd int) (string, error) {
	fmt.Fprint(s.prompt, "Enter keystore passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.prompt)
	return string(raw), err
}

// readLine returns the first line of r without its line terminator.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
