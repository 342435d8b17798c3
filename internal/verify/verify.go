// Package verify checks detached PGP signatures on fetched artifacts.
//
// Verification is optional: a repository may publish a <filename>.asc
// companion next to an artifact, and when public keys are configured each
// fetched artifact with such a companion is checked against them.
package verify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// maxSignatureSize bounds a signature file read; detached signatures are
// tiny and anything larger is malformed input.
const maxSignatureSize = 1024 * 1024

var (
	ErrNoKeys           = errors.New("no armored keys found")
	ErrVerificationFail = errors.New("signature verification failed")
)

// SignatureFilename returns the detached signature companion filename for
// an artifact.
func SignatureFilename(filename string) string {
	return filename + ".asc"
}

// Verifier holds a keyring of trusted public keys.
type Verifier struct {
	keyRing *crypto.KeyRing
}

// NewVerifierFromDir loads every ASCII-armored .asc public key in keysDir
// into a verifier.
func NewVerifierFromDir(keysDir string) (*Verifier, error) {
	entries, err := os.ReadDir(keysDir)
	if err != nil {
		return nil, fmt.Errorf("reading keys directory: %w", err)
	}

	var armored []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".asc" {
			continue
		}
		keyData, err := os.ReadFile(filepath.Join(keysDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading key file %s: %w", entry.Name(), err)
		}
		armored = append(armored, string(keyData))
	}
	return NewVerifier(armored)
}

// NewVerifier builds a verifier from ASCII-armored public key strings.
func NewVerifier(armoredKeys []string) (*Verifier, error) {
	if len(armoredKeys) == 0 {
		return nil, ErrNoKeys
	}

	var keyRing *crypto.KeyRing
	for i, armored := range armoredKeys {
		key, err := crypto.NewKeyFromArmored(armored)
		if err != nil {
			return nil, fmt.Errorf("parsing armored key %d: %w", i, err)
		}
		if keyRing == nil {
			keyRing, err = crypto.NewKeyRing(key)
		} else {
			err = keyRing.AddKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("adding key %d to keyring: %w", i, err)
		}
	}
	return &Verifier{keyRing: keyRing}, nil
}

// VerifyDetached checks a detached signature over message. Armored and
// binary signature encodings are both accepted.
func (v *Verifier) VerifyDetached(message, signature []byte) error {
	plain := crypto.NewPlainMessage(message)
	sig, err := crypto.NewPGPSignatureFromArmored(string(signature))
	if err != nil {
		sig = crypto.NewPGPSignature(signature)
	}
	if err := v.keyRing.VerifyDetached(plain, sig, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFail, err)
	}
	return nil
}

// VerifyFile checks the detached signature at sigPath over the artifact at
// artifactPath.
func (v *Verifier) VerifyFile(artifactPath, sigPath string) error {
	info, err := os.Stat(sigPath)
	if err != nil {
		return fmt.Errorf("reading signature file: %w", err)
	}
	if info.Size() > maxSignatureSize {
		return fmt.Errorf("signature file %s is too large", sigPath)
	}

	message, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	signature, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("reading signature file: %w", err)
	}
	return v.VerifyDetached(message, signature)
}
