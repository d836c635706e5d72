// Package label turns free-form user text into a single RFC 1035 DNS label.
//
// The transformation is lossy on purpose: accents are folded, everything is
// lowercased, whitespace becomes hyphens and every other character outside
// [a-z0-9-] is dropped. Callers can distinguish a prompt that was rejected
// outright (ErrInvalidInput) from one that sanitized to nothing
// (ErrEmptyAfterSanitization).
package label

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lc/txtchat/internal/dnserr"
)

const (
	// MaxPromptUnits is the maximum prompt length in UTF-16 code units.
	MaxPromptUnits = 120
	// MaxLength is the maximum length of a DNS label in bytes.
	MaxLength = 63
)

var (
	// ErrInvalidInput is returned for prompts that are too long, not valid
	// UTF-8, or contain control characters.
	ErrInvalidInput = dnserr.New(dnserr.ErrValidation, "invalid input")
	// ErrEmptyAfterSanitization is returned when nothing usable survives sanitization.
	ErrEmptyAfterSanitization = dnserr.New(dnserr.ErrValidation, "message is empty after sanitization")
)

// Label is a sanitized DNS label: 1-63 bytes of [a-z0-9-], no edge hyphens.
type Label string

// String implements fmt.Stringer.
func (l Label) String() string { return string(l) }

// Sanitize validates raw and converts it into a Label.
func Sanitize(raw string) (Label, error) {
	if err := checkPrompt(raw); err != nil {
		return "", err
	}

	folded, _, err := transform.String(foldChain(), raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	lastHyphen := true // suppresses leading hyphens
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r) || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		}
		if b.Len() > MaxLength {
			break
		}
	}

	out := b.String()
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	out = strings.Trim(out, "-")
	if out == "" {
		return "", ErrEmptyAfterSanitization
	}
	return Label(out), nil
}

// Valid reports whether s already satisfies the Label invariants.
func Valid(s string) bool {
	if len(s) == 0 || len(s) > MaxLength {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// checkPrompt enforces the raw prompt invariants. Empty and blank prompts are
// reported as ErrEmptyAfterSanitization since they cannot produce a label.
func checkPrompt(raw string) error {
	if !utf8.ValidString(raw) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidInput)
	}
	units := 0
	for _, r := range raw {
		if isControl(r) {
			return fmt.Errorf("%w: control character %U", ErrInvalidInput, r)
		}
		units++
		if r > 0xFFFF {
			units++ // surrogate pair
		}
	}
	if units > MaxPromptUnits {
		return fmt.Errorf("%w: %d UTF-16 units exceeds %d", ErrInvalidInput, units, MaxPromptUnits)
	}
	if strings.TrimSpace(raw) == "" {
		return ErrEmptyAfterSanitization
	}
	return nil
}

func isControl(r rune) bool {
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F)
}

// foldChain decomposes to NFD and drops nonspacing marks, so "É" becomes "E".
// A transform.Transformer is stateful, so a fresh chain is built per call.
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
}
