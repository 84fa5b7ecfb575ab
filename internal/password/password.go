// Package password compares candidate passwords against stored hashes.
// Two schemes are supported during the ongoing migration: argon2id is the
// scheme new hashes are written in, and bcrypt hashes from older releases
// still verify but are flagged for rehashing.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// argon2id parameters (OWASP recommendation).
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// ErrMalformedHash indicates the stored hash is in no recognized format.
var ErrMalformedHash = errors.New("malformed password hash")

// Result reports the outcome of a verification.
type Result struct {
	Matched bool
	// NeedsRehash is set when the match came through the legacy scheme
	// and the caller should persist a modern hash.
	NeedsRehash bool
}

// Verifier checks candidate passwords against stored hashes and produces
// new hashes in the modern scheme.
type Verifier struct{}

// NewVerifier returns a dual-scheme password verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify compares candidate against the stored hash. A nil stored hash
// (passwordless-only profile) reports no match without error; the caller
// decides whether passwordless paths apply. A mismatch is a normal
// outcome, not an error.
func (v *Verifier) Verify(stored *string, candidate string) (Result, error) {
	if stored == nil || *stored == "" {
		return Result{}, nil
	}

	switch {
	case strings.HasPrefix(*stored, "$argon2id$"):
		matched, err := verifyArgon2id(*stored, candidate)
		if err != nil {
			return Result{}, err
		}
		return Result{Matched: matched}, nil
	case strings.HasPrefix(*stored, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(*stored), []byte(candidate))
		if err == nil {
			return Result{Matched: true, NeedsRehash: true}, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	default:
		return Result{}, ErrMalformedHash
	}
}

// Hash produces an argon2id hash of the password in PHC string format.
func (v *Verifier) Hash(candidate string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(candidate), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(encoded, candidate string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if threads == 0 || threads > 255 {
		return false, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if len(expected) == 0 {
		return false, ErrMalformedHash
	}

	computed := argon2.IDKey([]byte(candidate), salt, time, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
