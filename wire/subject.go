package wire

import (
	"strings"

	"github.com/c360/streamwire/errors"
)

// ValidateSubject checks that a subject is non-empty and contains no
// whitespace. It does not reject wildcard tokens; those are legal in
// subscription patterns.
func ValidateSubject(subject string) error {
	if subject == "" {
		return errors.WrapInvalid(errors.ErrBadSubject, "wire", "ValidateSubject", "empty subject")
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return errors.WrapInvalid(errors.ErrBadSubject, "wire", "ValidateSubject",
			"subject contains whitespace")
	}
	return nil
}

// ValidatePattern checks a subscription pattern: subject rules plus the
// constraint that `>` may only appear as the final token.
func ValidatePattern(pattern string) error {
	if err := ValidateSubject(pattern); err != nil {
		return err
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == ">" && i != len(tokens)-1 {
			return errors.WrapInvalid(errors.ErrBadSubject, "wire", "ValidatePattern",
				"'>' is only valid as the final token")
		}
		if tok == "" {
			return errors.WrapInvalid(errors.ErrBadSubject, "wire", "ValidatePattern",
				"empty token")
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches a subscription
// pattern. Tokens are dot-separated: `*` matches exactly one token, `>`
// matches one or more trailing tokens.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			// Must consume at least one token.
			return i == len(pt)-1 && i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}
