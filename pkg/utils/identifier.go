package utils

import (
	"errors"
	"strings"
	"unicode"
)

// ValidateIdentifier checks a command or group name: non-empty, lower case,
// and free of whitespace or quoting characters that the command tokenizer
// would split or strip.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return errors.New("identifier is required and must be a non-empty string")
	}
	if identifier != strings.ToLower(identifier) {
		return errors.New("identifier must be lower case")
	}
	if strings.ContainsFunc(identifier, unicode.IsSpace) || strings.ContainsAny(identifier, `"'\`) {
		return errors.New("identifier must not contain whitespace, quotes or backslashes")
	}
	return nil
}
