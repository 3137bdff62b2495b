package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvPassword supplies the vault password non-interactively.
const EnvPassword = "SECUREFOLDER_PASSWORD"

var stdin = bufio.NewReader(os.Stdin)

// readLine reads a single line, trimming the trailing newline. EOF with no
// input returns io.EOF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			return "", io.EOF
		}
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// isYes reports whether answer accepts a y/N question.
func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// confirm asks a y/N question on stdin. Read errors count as "no".
func confirm(question string) bool {
	return linePrompter{in: stdin, out: os.Stdout}.ask(question)
}

// linePrompter answers migration questions from line input.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p linePrompter) Confirm(title, message string) (bool, error) {
	fmt.Fprintf(p.out, "\n%s\n%s\n", title, message)
	answer, err := p.read("Continue? [y/N]: ")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return isYes(answer), nil
}

func (p linePrompter) ask(question string) bool {
	answer, err := p.read(question + " [y/N]: ")
	return err == nil && isYes(answer)
}

func (p linePrompter) read(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	answer, err := readLine(p.in)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(p.out)
	}
	return answer, err
}

// readPassword returns SECUREFOLDER_PASSWORD when set, otherwise prompts
// with echo disabled. Piped input is read as a plain line.
func readPassword(prompt string) ([]byte, error) {
	if env, ok := os.LookupEnv(EnvPassword); ok {
		return []byte(env), nil
	}

	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := readLine(stdin)
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return []byte(line), nil
	}

	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}
