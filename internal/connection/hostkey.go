package connection

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// TrustDecision is the answer to a host-key confirmation.
type TrustDecision int

const (
	TrustReject TrustDecision = iota
	TrustOnce
	TrustRemember
)

// TrustPrompter is the host-key trust collaborator. It is consulted once
// per unknown host during handshake; a reject aborts only that hop.
type TrustPrompter interface {
	ConfirmHostKey(hostname, keyType, fingerprint string) TrustDecision
}

// AcceptAll trusts every host key without persisting it. Useful for tests
// and for hop configs where trust was established elsewhere.
type AcceptAll struct{}

func (AcceptAll) ConfirmHostKey(string, string, string) TrustDecision { return TrustOnce }

// KnownHosts verifies host keys against an OpenSSH known_hosts file and
// asks the prompter about hosts it has never seen. Key mismatches are never
// forgiven automatically.
type KnownHosts struct {
	path     string
	prompter TrustPrompter

	mu sync.Mutex
}

func NewKnownHosts(path string, prompter TrustPrompter) (*KnownHosts, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	f.Close()
	return &KnownHosts{path: path, prompter: prompter}, nil
}

// Callback returns the verification callback wired into every hop's
// ssh.ClientConfig.
func (k *KnownHosts) Callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		k.mu.Lock()
		defer k.mu.Unlock()

		check, err := knownhosts.New(k.path)
		if err != nil {
			return newError(HostKeyVerificationFailed, fmt.Errorf("failed to load known_hosts: %w", err))
		}

		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return newError(HostKeyVerificationFailed, err)
		}
		if len(keyErr.Want) > 0 {
			// The host presented a different key than the one on record.
			return newError(HostKeyVerificationFailed,
				fmt.Errorf("host key mismatch for %s: got %s", hostname, ssh.FingerprintSHA256(key)))
		}

		// Unknown host: ask the trust collaborator.
		decision := TrustReject
		if k.prompter != nil {
			decision = k.prompter.ConfirmHostKey(hostname, key.Type(), ssh.FingerprintSHA256(key))
		}
		switch decision {
		case TrustOnce:
			return nil
		case TrustRemember:
			return k.remember(hostname, key)
		default:
			return newError(HostKeyVerificationFailed, fmt.Errorf("host key for %s rejected", hostname))
		}
	}
}

func (k *KnownHosts) remember(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(k.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newError(HostKeyVerificationFailed, fmt.Errorf("failed to open known_hosts: %w", err))
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return newError(HostKeyVerificationFailed, fmt.Errorf("failed to record host key: %w", err))
	}
	return nil
}
