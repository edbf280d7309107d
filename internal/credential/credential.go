// Package credential classifies Replicate access tokens.
//
// Validity is purely syntactic: a token is accepted when it carries the
// Replicate prefix and has the exact expected length. Nothing is verified
// against the remote service.
package credential

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"
)

const (
	Prefix = "r8_"
	Length = 40
)

// Environment variables consulted for the process default credential, in order.
var EnvKeys = []string{"REPLICATE_API_KEY", "REPLICATE_API_TOKEN"}

var (
	// ErrInvalid reports a malformed token. The caller keeps its previous credential.
	ErrInvalid = errors.New("invalid api key: expected a Replicate token starting with r8_ and 40 characters long")
	// ErrMissing reports that no valid credential is available for a model call.
	ErrMissing = errors.New("api key not configured")
)

// Source records where a session's active credential came from.
type Source string

const (
	SourceNone    Source = ""
	SourceDefault Source = "default"
	SourceCustom  Source = "custom"
)

// Valid reports whether token has the shape of a Replicate token. Length is
// counted in characters, not bytes.
func Valid(token string) bool {
	return strings.HasPrefix(token, Prefix) && utf8.RuneCountInString(token) == Length
}

// FromEnv returns the first non-empty credential found in EnvKeys.
func FromEnv() string {
	for _, key := range EnvKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// Mask hides all but the prefix and the last four characters, for logs.
func Mask(token string) string {
	runes := []rune(token)
	if len(runes) <= len(Prefix)+4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:len(Prefix)]) + strings.Repeat("*", len(runes)-len(Prefix)-4) + string(runes[len(runes)-4:])
}
