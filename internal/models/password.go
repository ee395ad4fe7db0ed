package models

import (
	"errors"

	"sshFleet/internal/crypto"
)

// Password holds one encrypted secret (a login password or a key
// passphrase). The plaintext only exists transiently, on demand.
type Password struct {
	Description string `json:"description"`
	Password    string `json:"password"` // encrypted, hex-encoded
}

func NewPassword(description, plain string, cipher *crypto.Cipher) (*Password, error) {
	if description == "" {
		return nil, errors.New("description cannot be empty")
	}
	if plain == "" {
		return nil, errors.New("password cannot be empty")
	}
	encrypted, err := cipher.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return &Password{Description: description, Password: encrypted}, nil
}

func (p *Password) Validate() error {
	if p.Description == "" {
		return errors.New("description cannot be empty")
	}
	if p.Password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// GetDecrypted returns the plaintext secret.
func (p *Password) GetDecrypted(cipher *crypto.Cipher) (string, error) {
	return cipher.Decrypt(p.Password)
}

func (p *Password) UpdatePassword(newPlain string, cipher *crypto.Cipher) error {
	if newPlain == "" {
		return errors.New("new password cannot be empty")
	}
	encrypted, err := cipher.Encrypt(newPlain)
	if err != nil {
		return err
	}
	p.Password = encrypted
	return nil
}
