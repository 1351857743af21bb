package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var (
	errNilKey        = errors.New("crypto: nil private key")
	errEmptyKeystore = errors.New("crypto: empty keystore path")
)

// SaveToKeystore encrypts a participant key into a v3 keystore file at path.
// Missing parent directories are created with 0700 permissions and the file
// itself is left readable only by its owner.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errNilKey
	}
	if path == "" {
		return errEmptyKeystore
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// go-ethereum names keystore files itself, so stage in a scratch directory
	// and move the single result into place.
	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return errors.New("crypto: failed to create keystore file")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a keystore file written by SaveToKeystore.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKeystore
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
