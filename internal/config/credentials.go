package config

import (
	"fmt"

	"sshFleet/internal/connection"
	"sshFleet/internal/crypto"
	"sshFleet/internal/models"
)

// Credentials resolves stored AuthSpec records into decrypted material for
// the connection core. Plaintext never leaves the resolved Material value
// and is never written back.
type Credentials struct {
	store  *Manager
	cipher *crypto.Cipher
}

func NewCredentials(store *Manager, cipher *crypto.Cipher) *Credentials {
	return &Credentials{store: store, cipher: cipher}
}

// Resolve decrypts the material an AuthSpec points at.
func (c *Credentials) Resolve(spec models.AuthSpec) (connection.Material, error) {
	m := connection.Material{Type: spec.Type}

	switch spec.Type {
	case models.AuthPassword:
		if spec.PasswordID < 0 {
			return m, fmt.Errorf("password auth declared but no password reference")
		}
		p, ok := c.store.GetPassword(spec.PasswordID)
		if !ok {
			return m, fmt.Errorf("password %d not found", spec.PasswordID)
		}
		plain, err := p.GetDecrypted(c.cipher)
		if err != nil {
			return m, fmt.Errorf("failed to decrypt password: %w", err)
		}
		m.Password = plain

	case models.AuthPrivateKey:
		switch {
		case spec.KeyID >= 0:
			k, ok := c.store.GetKey(spec.KeyID)
			if !ok {
				return m, fmt.Errorf("key %d not found", spec.KeyID)
			}
			if k.IsLocal() {
				pem, err := k.GetKeyData(c.cipher)
				if err != nil {
					return m, fmt.Errorf("failed to decrypt key data: %w", err)
				}
				m.KeyPEM = []byte(pem)
			} else {
				m.KeyPath = ExpandPath(k.Path)
			}
		case spec.KeyPath != "":
			m.KeyPath = ExpandPath(spec.KeyPath)
		default:
			return m, fmt.Errorf("key auth declared but no key reference")
		}
		if spec.PassphraseID >= 0 {
			p, ok := c.store.GetPassword(spec.PassphraseID)
			if !ok {
				return m, fmt.Errorf("passphrase %d not found", spec.PassphraseID)
			}
			plain, err := p.GetDecrypted(c.cipher)
			if err != nil {
				return m, fmt.Errorf("failed to decrypt passphrase: %w", err)
			}
			m.Passphrase = plain
		}

	case models.AuthAgent, models.AuthKeyboardInteractive:
		// No stored material; the agent keyring or the prompter supplies it.

	default:
		return m, fmt.Errorf("unknown auth type %q", spec.Type)
	}
	return m, nil
}

// RequestFor builds a connect request for a host, resolving the target's
// and every hop's credential material.
func (c *Credentials) RequestFor(host *models.Host) (connection.Request, error) {
	var req connection.Request

	material, err := c.Resolve(host.Auth)
	if err != nil {
		return req, fmt.Errorf("host %s: %w", host.Name, err)
	}
	req.Target = connection.Endpoint{
		Host:     host.IP,
		Addr:     host.Addr(),
		User:     host.Login,
		Material: material,
	}

	for _, hop := range host.ProxyJumps {
		hopMaterial, err := c.Resolve(hop.Auth)
		if err != nil {
			return req, fmt.Errorf("hop %s: %w", hop.Host, err)
		}
		req.Hops = append(req.Hops, connection.Endpoint{
			Host:     hop.Host,
			Addr:     hop.Addr(),
			User:     hop.Login,
			Material: hopMaterial,
		})
	}
	return req, nil
}
