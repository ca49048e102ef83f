package signature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// armorPrefix starts every ASCII-armored OpenPGP block.
const armorPrefix = "-----BEGIN PGP"

var (
	// ErrEmptyKeyRing is returned when the key file contains no usable keys.
	ErrEmptyKeyRing = errors.New("no keys found in key ring")
	// ErrBadSignature is returned when a file does not match its detached signature.
	ErrBadSignature = errors.New("signature verification failed")
)

// Verifier checks detached OpenPGP signatures against a fixed key ring.
type Verifier struct {
	// keyring holds the trusted public keys.
	keyring openpgp.EntityList
}

// LoadKeyRing reads an armored or binary public key file.
func LoadKeyRing(path string) (*Verifier, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	return ParseKeyRing(data)
}

// ParseKeyRing parses armored or binary public key material.
func ParseKeyRing(data []byte) (*Verifier, error) {
	var (
		keyring openpgp.EntityList
		err     error
	)

	if isArmored(data) {
		keyring, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}

	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	if len(keyring) == 0 {
		return nil, ErrEmptyKeyRing
	}

	return &Verifier{keyring: keyring}, nil
}

// Verify checks that signed matches the detached signature sig.
func (v *Verifier) Verify(signed io.Reader, sig []byte) error {
	var err error

	if isArmored(sig) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	return nil
}

// VerifyFile checks a file on disk against a detached signature.
func (v *Verifier) VerifyFile(path string, sig []byte) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open signed file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	return v.Verify(file, sig)
}

func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(armorPrefix))
}
