package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet is the character set of email verification codes.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCode returns length characters drawn uniformly from alphabet.
func NewCode(alphabet string, length int) (string, error) {
	if length < 4 || length > 64 {
		return "", errors.New("invalid code length")
	}
	if len(alphabet) < 2 {
		return "", errors.New("invalid code alphabet")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	code := b.String()
	if len(code) != length {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// NewBase32Secret returns size random bytes encoded as padded RFC 4648 base32.
func NewBase32Secret(size int) (string, error) {
	if size < 10 {
		return "", errors.New("invalid secret size")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(raw), nil
}

// HashCode returns the lowercase hex SHA-256 digest of code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
