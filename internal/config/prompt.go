package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// PromptStep is one question of the interactive connection prompt. An empty
// answer keeps Current.
type PromptStep struct {
	Label   string
	Current string
	Secret  bool
	Set     func(value string) error
}

// ConnectionParams are the PostgreSQL settings collected when DATABASE_URL
// is not set.
type ConnectionParams struct {
	Host     string
	Port     int
	User     string
	Database string
	Password string
}

// DefaultConnectionParams matches a stock local PostgreSQL install.
func DefaultConnectionParams() ConnectionParams {
	return ConnectionParams{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "postgres",
		Password: "postgres",
	}
}

// Steps returns the prompt sequence: host, port, user, database, password.
func (p *ConnectionParams) Steps() []PromptStep {
	setString := func(dst *string) func(string) error {
		return func(v string) error {
			*dst = v
			return nil
		}
	}

	return []PromptStep{
		{Label: "Host", Current: p.Host, Set: setString(&p.Host)},
		{Label: "Port", Current: strconv.Itoa(p.Port), Set: func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", v)
			}
			p.Port = port
			return nil
		}},
		{Label: "User", Current: p.User, Set: setString(&p.User)},
		{Label: "Database", Current: p.Database, Set: setString(&p.Database)},
		{Label: "Password", Current: p.Password, Secret: true, Set: setString(&p.Password)},
	}
}

// URL renders the parameters as a postgres:// connection URL.
func (p ConnectionParams) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	return u.String()
}

// Prompter asks PromptSteps on a line-oriented reader.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	// readSecret reads a value without echo. When nil, secrets are read as
	// plain lines.
	readSecret func() (string, error)
}

// NewPrompter creates a Prompter that echoes every answer.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// NewTerminalPrompter creates a Prompter on a terminal; secrets are read
// with echo disabled.
func NewTerminalPrompter(in *os.File, out io.Writer) *Prompter {
	p := NewPrompter(in, out)
	p.readSecret = func() (string, error) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		return string(b), err
	}
	return p
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run asks every step in order.
func (p *Prompter) Run(steps []PromptStep) error {
	for _, step := range steps {
		current := step.Current
		if step.Secret && current != "" {
			current = strings.Repeat("*", len(current))
		}
		fmt.Fprintf(p.out, "%s (%s): ", step.Label, current)

		answer, err := p.read(step.Secret)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", strings.ToLower(step.Label), err)
		}
		if answer == "" {
			continue
		}
		if err := step.Set(answer); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prompter) read(secret bool) (string, error) {
	if secret && p.readSecret != nil {
		answer, err := p.readSecret()
		return strings.TrimSpace(answer), err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptDatabaseURL collects connection parameters through p and returns
// the resulting URL.
func PromptDatabaseURL(p *Prompter) (string, error) {
	fmt.Fprintln(p.out, "No DATABASE_URL found, please enter the following:")
	params := DefaultConnectionParams()
	if err := p.Run(params.Steps()); err != nil {
		return "", err
	}
	return params.URL(), nil
}
