// Package deliverycode issues the one-time codes a maker reads back to
// confirm delivery. Codes are short enough to dictate over the phone, so the
// alphabet drops characters that are easy to mistranscribe (0/O, 1/I).
package deliverycode

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Alphabet is the 32-character set codes are drawn from.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length of every generated code.
const Length = 6

// MaxAttempts bounds collision retries before generation fails outright.
const MaxAttempts = 100

// ErrExhausted is returned when every attempt collided with a live code.
var ErrExhausted = fmt.Errorf("delivery code generation exhausted after %d attempts", MaxAttempts)

type Generator struct {
	rand io.Reader
}

func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithRand injects the entropy source, for tests.
func NewGeneratorWithRand(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate produces one candidate code. It does not check uniqueness; the
// caller reserves the code against the store and retries on collision.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Normalize is applied identically at generation, storage and comparison time
// so user-entered codes with stray whitespace, lowercase or the display
// separator still match. Accepting the "ABC-DEF" form matters: that is how
// every API response and email shows the code.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// Format renders a code for humans ("ABC-DEF"). Formatted codes are never
// stored or compared.
func Format(code string) string {
	code = Normalize(code)
	if len(code) != Length {
		return code
	}
	return code[:Length/2] + "-" + code[Length/2:]
}
