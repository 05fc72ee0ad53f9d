// Package matchcode generates and validates the 6-character codes that
// address a broadcast match.
package matchcode

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

// Length of every match code.
const Length = 6

// alphabet omits visually ambiguous characters (0/O, 1/I/L) so codes can be
// read aloud from a gym bleacher. Validation is looser: anything uppercase
// alphanumeric of the right length is accepted, since older codes may
// predate the restricted alphabet.
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Generate returns a new random match code.
func Generate() (string, error) {
	code := make([]byte, Length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}

// Normalize uppercases a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether the (already normalized) code is well formed.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}
