// Package token generates the opaque single-use tokens used by the
// verification and password-reset flows, plus the throwaway passwords
// assigned to accounts that have not set one yet.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Length is the fixed length of an opaque token in characters.
const Length = 32

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890!@#$%^&*()"

// New returns a cryptographically random token of Length hex characters.
func New() (string, error) {
	buf := make([]byte, Length/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomPassword returns a random password of n characters. It is used for
// accounts whose real password is established later (pending registrations)
// or never (federated accounts); only its hash is ever stored.
func RandomPassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = passwordCharset[idx.Int64()]
	}
	return string(out), nil
}
