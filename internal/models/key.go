package models

import (
	"errors"

	"sshFleet/internal/crypto"
)

// Key describes a private key: either a path to an external file or the key
// material itself, stored encrypted.
type Key struct {
	Description string `json:"description"`
	Path        string `json:"path,omitempty"`
	KeyData     string `json:"key_data,omitempty"` // encrypted PEM
}

func NewKey(description, path, keyData string, cipher *crypto.Cipher) (*Key, error) {
	if description == "" {
		return nil, errors.New("description cannot be empty")
	}
	if path != "" && keyData != "" {
		return nil, errors.New("cannot specify both path and key data")
	}
	if path == "" && keyData == "" {
		return nil, errors.New("either path or key data must be provided")
	}

	var encrypted string
	if keyData != "" {
		var err error
		encrypted, err = cipher.Encrypt(keyData)
		if err != nil {
			return nil, err
		}
	}
	return &Key{Description: description, Path: path, KeyData: encrypted}, nil
}

func (k *Key) Validate() error {
	if k.Description == "" {
		return errors.New("description cannot be empty")
	}
	if k.Path == "" && k.KeyData == "" {
		return errors.New("either path or key data must be provided")
	}
	if k.Path != "" && k.KeyData != "" {
		return errors.New("cannot have both path and key data")
	}
	return nil
}

// GetKeyData returns the decrypted PEM material of a locally stored key.
func (k *Key) GetKeyData(cipher *crypto.Cipher) (string, error) {
	if k.KeyData == "" {
		return "", errors.New("no key data stored")
	}
	return cipher.Decrypt(k.KeyData)
}

// IsLocal reports whether the key material is stored in the config rather
// than referenced by path.
func (k *Key) IsLocal() bool {
	return k.KeyData != ""
}
