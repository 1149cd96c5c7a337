package vault

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFileName  = ".parcelwatch.key"
	localKeySize = 128
)

// localKey reads the process-local secret, generating it on first use. The
// file is made read-only once written; deleting or regenerating it makes all
// stored ciphertexts undecryptable.
func localKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, keyFileName)
	if b, err := os.ReadFile(path); err == nil {
		if len(b) != localKeySize {
			return nil, fmt.Errorf("key file %s has unexpected size %d", path, len(b))
		}
		return b, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, localKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o400); err != nil {
		return nil, err
	}
	return key, nil
}
