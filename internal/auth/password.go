package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters, per current OWASP guidance.
const (
	hashIterations  = 3
	hashMemoryKiB   = 64 * 1024
	hashParallelism = 1
	hashLength      = 32
	saltLength      = 16
)

var errBadHashEncoding = errors.New("malformed password hash encoding")

// HashPassword derives an Argon2id hash of password with a fresh random
// salt and encodes it in PHC form
// ($argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>), which VerifyPassword
// can later decode without knowing the parameters used at hash time.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		hashIterations, hashMemoryKiB, hashParallelism, hashLength)

	b64 := base64.RawStdEncoding
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemoryKiB, hashIterations, hashParallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key))
	return encoded, nil
}

// VerifyPassword reports whether password matches the PHC-encoded hash.
// The comparison is constant-time. An undecodable hash is an error, not
// a mismatch.
func VerifyPassword(password, encoded string) (bool, error) {
	salt, want, memory, iterations, parallelism, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt,
		iterations, memory, parallelism, uint32(len(want))) //nolint:gosec // hash length fits uint32

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func decodeHash(encoded string) (salt, hash []byte, memory, iterations uint32, parallelism uint8, err error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[1] != "argon2id" { //nolint:mnd // $-split PHC string has 6 fields
		err = errBadHashEncoding
		return
	}

	var version int
	if _, scanErr := fmt.Sscanf(fields[2], "v=%d", &version); scanErr != nil {
		err = fmt.Errorf("%w: %s", errBadHashEncoding, fields[2])
		return
	}
	if _, scanErr := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); scanErr != nil {
		err = fmt.Errorf("%w: %s", errBadHashEncoding, fields[3])
		return
	}

	if salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		err = fmt.Errorf("decoding salt: %w", err)
		return
	}
	if hash, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		err = fmt.Errorf("decoding hash: %w", err)
		return
	}
	return
}
