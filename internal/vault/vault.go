// Package vault encrypts stored portal passwords with a key derived from a
// process-local secret file combined with an installation passphrase.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/parcelwatch/parcelwatch/internal/model"
)

const (
	keySize    = 32 // AES-256
	ivSize     = aes.BlockSize
	saltSize   = 16
	iterations = 12000
)

// Vault derives per-credential AES keys and performs CBC encryption with
// PKCS7 padding. The salt is regenerated on every Encrypt call and appended
// to the plaintext before encryption so Decrypt can validate it.
type Vault struct {
	secret []byte
}

// New combines the local key file under keyDir with the configured
// passphrase. Creating the key file is a one-time event; regenerating it
// invalidates every previously stored password.
func New(keyDir, passphrase string) (*Vault, error) {
	local, err := localKey(keyDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrVault, err)
	}
	return &Vault{secret: append(local, []byte(passphrase)...)}, nil
}

// Encrypt returns base64 ciphertext and the base64 salt used to derive its key.
func (v *Vault) Encrypt(plaintext string) (cipherB64, saltB64 string, err error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("%w: %v", model.ErrVault, err)
	}

	block, iv, err := v.cipherFor(salt)
	if err != nil {
		return "", "", err
	}

	// The salt rides along inside the ciphertext; Decrypt trims and checks it.
	padded := pkcs7Pad(append([]byte(plaintext), salt...), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(salt), nil
}

// Decrypt reverses Encrypt. Any failure (bad base64, wrong key, bad padding,
// salt mismatch) is a fatal configuration problem for this credential.
func (v *Vault) Decrypt(cipherB64, saltB64 string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("%w: malformed salt: %v", model.ErrVault, err)
	}
	data, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext: %v", model.ErrVault, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext not block-aligned", model.ErrVault)
	}

	block, iv, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	plain, err = pkcs7Trim(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrVault, err)
	}
	if len(plain) < len(salt) || !bytes.Equal(plain[len(plain)-len(salt):], salt) {
		return "", fmt.Errorf("%w: salt check failed", model.ErrVault)
	}
	return string(plain[:len(plain)-len(salt)]), nil
}

// cipherFor stretches the combined secret with the salt into an AES key and IV.
func (v *Vault) cipherFor(salt []byte) (cipher.Block, []byte, error) {
	derived := pbkdf2.Key(v.secret, salt, iterations, keySize+ivSize, sha1.New)
	block, err := aes.NewCipher(derived[:keySize])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrVault, err)
	}
	return block, derived[keySize:], nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Trim(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
