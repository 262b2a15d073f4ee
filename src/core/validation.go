package main

import (
	"fmt"
	"math"
	"regexp"
	"unicode"
)

// Field length limits
const (
	MaxAddressLength = 128
	MaxHashLength    = 256
)

var (
	evmAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	shortIDRegex    = regexp.MustCompile(`^[a-f0-9]{16}$`)
)

// IsCanonicalAddress reports whether addr has a recognised address shape:
// a 0x-prefixed 20-byte hex address or a 16-hex-character short ID
func IsCanonicalAddress(addr string) bool {
	return evmAddressRegex.MatchString(addr) || IsShortID(addr)
}

// ContainsWhitespace checks if a string contains any whitespace
func ContainsWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

func validateAddressField(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidTransactionStructure, name)
	}
	if !ValidateStringField(addr, MaxAddressLength) || ContainsWhitespace(addr) {
		return fmt.Errorf("%w: %s is malformed", ErrInvalidTransactionStructure, name)
	}
	return nil
}

// ValidateTransactionStructure performs the synchronous shape check that
// runs before any analysis
func ValidateTransactionStructure(tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is nil", ErrInvalidTransactionStructure)
	}

	if err := validateAddressField("from", tx.From); err != nil {
		return err
	}
	if err := validateAddressField("to", tx.To); err != nil {
		return err
	}

	if tx.amountMissing {
		return fmt.Errorf("%w: amount is required", ErrInvalidTransactionStructure)
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return fmt.Errorf("%w: amount must be finite", ErrInvalidTransactionStructure)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidTransactionStructure)
	}

	if tx.Hash == "" {
		return fmt.Errorf("%w: hash is required", ErrInvalidTransactionStructure)
	}
	if !ValidateStringField(tx.Hash, MaxHashLength) || ContainsWhitespace(tx.Hash) {
		return fmt.Errorf("%w: hash is malformed", ErrInvalidTransactionStructure)
	}

	if tx.Timestamp < 0 {
		return fmt.Errorf("%w: timestamp must be non-negative", ErrInvalidTransactionStructure)
	}

	return nil
}

// IsShortID reports whether id is 16 lowercase hex characters, the shape
// of node IDs and short account IDs
func IsShortID(id string) bool {
	return shortIDRegex.MatchString(id)
}

// ValidateStringField checks for max length and control characters
func ValidateStringField(s string, maxLength int) bool {
	if len(s) > maxLength {
		return false
	}
	return !ContainsControlCharacters(s)
}

// ContainsControlCharacters reports control characters other than \n, \r and \t
func ContainsControlCharacters(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
