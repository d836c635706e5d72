// Package txt reassembles the character-strings of TXT answers into one reply.
//
// Two formats are understood. Plain answers are concatenated in the order they
// were received. Multipart answers prefix every fragment with "n/N:" and may
// arrive in any order:
//
//	2/3:quick brown    1/3:the     3/3: fox
//
// reassembles to "the quick brown fox".
package txt

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lc/txtchat/internal/dnserr"
)

var (
	// ErrEmptyResponse is returned when no fragment carries any text.
	ErrEmptyResponse = dnserr.New(dnserr.ErrReassembly, "empty response")
	// ErrIncompleteMultipart is returned when multipart fragments do not cover 1..N exactly.
	ErrIncompleteMultipart = dnserr.New(dnserr.ErrReassembly, "incomplete multipart response")
	// ErrConflictingPart is returned when one part number arrives with two different contents.
	ErrConflictingPart = dnserr.New(dnserr.ErrReassembly, "conflicting multipart fragment")
)

var partPrefix = regexp.MustCompile(`^(\d+)/(\d+):`)

type part struct {
	num     int
	total   int
	content string
}

// Reassemble merges fragments into the final answer.
func Reassemble(fragments [][]byte) (string, error) {
	frags := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(string(f)) == "" {
			continue
		}
		frags = append(frags, string(f))
	}
	if len(frags) == 0 {
		return "", ErrEmptyResponse
	}

	parts := make([]part, 0, len(frags))
	for _, f := range frags {
		p, ok := parsePart(f)
		if !ok {
			return plain(frags)
		}
		parts = append(parts, p)
	}
	return multipart(parts)
}

// IsMultipart reports whether every non-blank fragment carries an "n/N:" prefix.
func IsMultipart(fragments [][]byte) bool {
	seen := false
	for _, f := range fragments {
		if strings.TrimSpace(string(f)) == "" {
			continue
		}
		if !partPrefix.Match(f) {
			return false
		}
		seen = true
	}
	return seen
}

func plain(frags []string) (string, error) {
	out := strings.Join(frags, "")
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func multipart(parts []part) (string, error) {
	total := parts[0].total
	byNum := make(map[int]string, len(parts))
	for _, p := range parts {
		prev, dup := byNum[p.num]
		if dup {
			if prev != p.content {
				return "", fmt.Errorf("%w: part %d", ErrConflictingPart, p.num)
			}
			continue
		}
		byNum[p.num] = p.content
	}

	nums := make([]int, 0, len(byNum))
	for n := range byNum {
		if n < 1 || n > total {
			return "", fmt.Errorf("%w: part %d outside 1..%d", ErrIncompleteMultipart, n, total)
		}
		nums = append(nums, n)
	}
	if len(nums) != total {
		return "", fmt.Errorf("%w: have %d of %d parts", ErrIncompleteMultipart, len(nums), total)
	}
	sort.Ints(nums)

	var b strings.Builder
	for _, n := range nums {
		b.WriteString(byNum[n])
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func parsePart(f string) (part, bool) {
	m := partPrefix.FindStringSubmatchIndex(f)
	if m == nil {
		return part{}, false
	}
	// Numbers too large for int still count as multipart; they simply fall
	// outside 1..N.
	num, err := strconv.Atoi(f[m[2]:m[3]])
	if err != nil {
		num = -1
	}
	total, err := strconv.Atoi(f[m[4]:m[5]])
	if err != nil {
		total = 0
	}
	return part{num: num, total: total, content: f[m[1]:]}, true
}
