package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("first\r\nsecond\nlast"))
	for _, want := range []string{"first", "second", "last"} {
		got, err := readLine(r)
		if err != nil {
			t.Fatalf("readLine failed: %v", err)
		}
		if got != want {
			t.Errorf("readLine = %q, want %q", got, want)
		}
	}
	if _, err := readLine(r); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestIsYes(t *testing.T) {
	for answer, want := range map[string]bool{
		"y":     true,
		"Y":     true,
		" yes ": true,
		"YES":   true,
		"":      false,
		"n":     false,
		"yep":   false,
	} {
		if got := isYes(answer); got != want {
			t.Errorf("isYes(%q) = %v, want %v", answer, got, want)
		}
	}
}

func TestLinePrompterConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"no\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		p := linePrompter{in: bufio.NewReader(strings.NewReader(tt.input)), out: &out}
		got, err := p.Confirm("Migrate vault", "Copy the old files?")
		if err != nil {
			t.Fatalf("Confirm(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Migrate vault") || !strings.Contains(out.String(), "Copy the old files?") {
			t.Errorf("question not shown: %q", out.String())
		}
	}
}
