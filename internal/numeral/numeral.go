// Package numeral translates between the chain's 256-bit words and elements of
// the BN254 scalar field used by the pool's proof system. It is the only place
// where numbers cross that boundary.
package numeral

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// Modulus is the field order P as a chain word.
var Modulus = mustWord(fr.Modulus())

func mustWord(v *big.Int) *uint256.Int {
	w, overflow := uint256.FromBig(v)
	if overflow {
		panic("numeral: modulus does not fit in 256 bits")
	}
	return w
}

// ToField reinterprets w as a field element. It reports false when w >= P;
// the value is never reduced.
func ToField(w *uint256.Int) (fr.Element, bool) {
	var f fr.Element
	if w == nil || !w.Lt(Modulus) {
		return f, false
	}
	b := w.Bytes32()
	f.SetBytes(b[:])
	return f, true
}

// ToEvmWord widens f to a chain word. Every canonical element fits.
func ToEvmWord(f fr.Element) *uint256.Int {
	b := f.Bytes()
	return new(uint256.Int).SetBytes32(b[:])
}

// FromBig converts an ABI-decoded uint256. It reports false for negative
// values or values that need more than 256 bits.
func FromBig(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() < 0 {
		return nil, false
	}
	w, overflow := uint256.FromBig(v)
	if overflow {
		return nil, false
	}
	return w, true
}

// ParseField parses a canonical decimal field element as used on the relayer wire.
func ParseField(s string) (fr.Element, error) {
	var f fr.Element
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return f, fmt.Errorf("invalid field element %q", s)
	}
	w, ok := FromBig(v)
	if !ok {
		return f, fmt.Errorf("field element %q out of range", s)
	}
	f, ok = ToField(w)
	if !ok {
		return f, fmt.Errorf("field element %q is not below the field modulus", s)
	}
	return f, nil
}

// FormatField renders f as a decimal string.
func FormatField(f fr.Element) string {
	return f.BigInt(new(big.Int)).String()
}
