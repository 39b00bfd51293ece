// Package setup implements the interactive first-run wizard that writes the
// daydial configuration file.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// errNoInput is returned by Select when the reader is exhausted.
var errNoInput = errors.New("no input")

// Prompter asks questions on w and reads answers line by line from r.
// The CLI passes os.Stdin and os.Stdout; tests pass buffers.
type Prompter struct {
	in    io.Reader
	lines *bufio.Scanner
	w     io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{in: r, lines: bufio.NewScanner(r), w: w}
}

// ask prints the question and returns the trimmed answer. ok is false once
// the input is exhausted.
func (p *Prompter) ask(format string, args ...any) (answer string, ok bool) {
	_, _ = fmt.Fprintf(p.w, "  "+format+": ", args...)
	if !p.lines.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.lines.Text()), true
}

func (p *Prompter) hint(msg string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "  ("+msg+")\n", args...)
}

// String asks for a text value. An empty answer yields defaultVal; with no
// default the question is repeated until something is typed.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		var answer string
		var ok bool
		if defaultVal == "" {
			answer, ok = p.ask("%s", label)
		} else {
			answer, ok = p.ask("%s [%s]", label, defaultVal)
		}
		switch {
		case !ok:
			return defaultVal
		case answer != "":
			return answer
		case defaultVal != "":
			return defaultVal
		}
		p.hint("required, please enter a value")
	}
}

// Optional asks for a value that may be left empty.
func (p *Prompter) Optional(label string) string {
	answer, _ := p.ask("%s (optional)", label)
	return answer
}

// Secret asks for a token or password. Typing is not echoed when the reader
// is a terminal.
func (p *Prompter) Secret(label string, optional bool) string {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		answer, ok := p.readSecret()
		if !ok || answer != "" || optional {
			return answer
		}
		p.hint("required, please enter a value")
	}
}

func (p *Prompter) readSecret() (string, bool) {
	f, isFile := p.in.(*os.File)
	if !isFile || !term.IsTerminal(int(f.Fd())) {
		if !p.lines.Scan() {
			return "", false
		}
		return strings.TrimSpace(p.lines.Text()), true
	}

	b, err := term.ReadPassword(int(f.Fd()))
	_, _ = fmt.Fprintln(p.w)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// Confirm asks a yes/no question. An empty answer or end of input selects
// defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	choices := "y/N"
	if defaultYes {
		choices = "Y/n"
	}
	answer, ok := p.ask("%s [%s]", label, choices)
	if !ok || answer == "" {
		return defaultYes
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

// Select lists options and returns the zero-based index of the one chosen.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("no options to select from")
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}

	for {
		answer, ok := p.ask("Choice [1-%d]", len(options))
		if !ok {
			return -1, errNoInput
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		p.hint("enter a number between 1 and %d", len(options))
	}
}
