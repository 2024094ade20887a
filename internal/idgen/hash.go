// Package idgen provides the base36 content-addressing primitive shared
// by every short-id scheme in the engine (spec GLOSSARY "fingerprint";
// see internal/fingerprint, which hashes castings and relations down to
// INDEX property values with this encoding).
package idgen

import (
	"math/big"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified
// length, padding with leading zeros and truncating to the
// least-significant digits if the natural encoding is longer.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}
