package connection

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"sshFleet/internal/models"
)

// Material is the decrypted credential material for one endpoint. The
// credential subsystem resolves it; this package never persists or logs it.
type Material struct {
	Type       models.AuthType
	Password   string
	KeyPath    string
	KeyPEM     []byte // inline key material, used instead of KeyPath when set
	Passphrase string
}

// Fingerprint identifies the material for pool keying without exposing the
// secret itself.
func (m Material) Fingerprint() string {
	switch m.Type {
	case models.AuthPrivateKey:
		return fmt.Sprintf("key:%s", m.KeyPath)
	default:
		return string(m.Type)
	}
}

// AuthenticationPrompt is a single challenge within a keyboard-interactive
// exchange. Echo reports whether the typed response may be shown.
type AuthenticationPrompt struct {
	Text     string
	Echo     bool
	Response string
}

// AuthenticationRequest is a named, possibly multi-step interactive
// challenge raised during authentication (e.g. a one-time code).
type AuthenticationRequest struct {
	Name        string
	Instruction string
	Prompts     []AuthenticationPrompt
}

// Prompter is implemented by the UI surface. Prompt must fill every
// Response slot before returning, or return an error; it must honor ctx.
type Prompter interface {
	Prompt(ctx context.Context, req *AuthenticationRequest) error
}

// AgentKeyring enumerates keys held by an SSH agent.
type AgentKeyring interface {
	Signers() ([]ssh.Signer, error)
}

// MethodFactory turns credential material into an ordered list of
// ssh.AuthMethod values. It performs no network I/O itself.
type MethodFactory struct {
	Agent         AgentKeyring
	Prompter      Prompter
	PromptTimeout time.Duration
}

const defaultPromptTimeout = 2 * time.Minute

// Methods builds the methods to attempt for the given material, in order.
// Missing required material yields an InvalidConfiguration error.
func (f *MethodFactory) Methods(m Material) ([]ssh.AuthMethod, error) {
	switch m.Type {
	case models.AuthPassword:
		if m.Password == "" {
			return nil, newError(InvalidConfiguration, fmt.Errorf("password auth declared but no password supplied"))
		}
		return []ssh.AuthMethod{ssh.Password(m.Password)}, nil

	case models.AuthPrivateKey:
		signer, err := f.signer(m)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case models.AuthAgent:
		if f.Agent == nil {
			return nil, newError(InvalidConfiguration, fmt.Errorf("agent auth declared but no agent available"))
		}
		signers, err := f.Agent.Signers()
		if err != nil {
			return nil, newError(InvalidConfiguration, fmt.Errorf("agent key enumeration failed: %w", err))
		}
		if len(signers) == 0 {
			return nil, newError(InvalidConfiguration, fmt.Errorf("agent holds no keys"))
		}
		// One method per key so a per-key rejection falls through to the
		// next key in enumeration order.
		methods := make([]ssh.AuthMethod, 0, len(signers))
		for _, s := range signers {
			methods = append(methods, ssh.PublicKeys(s))
		}
		return methods, nil

	case models.AuthKeyboardInteractive:
		if f.Prompter == nil {
			return nil, newError(InvalidConfiguration, fmt.Errorf("keyboard-interactive auth declared but no prompter wired"))
		}
		return []ssh.AuthMethod{f.keyboardInteractive()}, nil

	default:
		return nil, newError(InvalidConfiguration, fmt.Errorf("unknown auth type %q", m.Type))
	}
}

func (f *MethodFactory) signer(m Material) (ssh.Signer, error) {
	pem := m.KeyPEM
	if len(pem) == 0 {
		if m.KeyPath == "" {
			return nil, newError(InvalidConfiguration, fmt.Errorf("key auth declared but no key supplied"))
		}
		data, err := os.ReadFile(m.KeyPath)
		if err != nil {
			return nil, newError(InvalidConfiguration, fmt.Errorf("failed to read key %s: %w", m.KeyPath, err))
		}
		pem = data
	}

	var signer ssh.Signer
	var err error
	if m.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(m.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, newError(InvalidConfiguration, fmt.Errorf("failed to parse private key: %w", err))
	}
	return signer, nil
}

// keyboardInteractive produces a method that raises an
// AuthenticationRequest and blocks, bounded by PromptTimeout, until every
// prompt has a response. Exceeding the bound fails with Cancelled.
func (f *MethodFactory) keyboardInteractive() ssh.AuthMethod {
	timeout := f.PromptTimeout
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	return ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		req := &AuthenticationRequest{Name: name, Instruction: instruction}
		for i, q := range questions {
			req.Prompts = append(req.Prompts, AuthenticationPrompt{Text: q, Echo: echos[i]})
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := f.Prompter.Prompt(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil, newError(Cancelled, fmt.Errorf("interactive prompt timed out: %w", err))
			}
			return nil, newError(Cancelled, err)
		}

		answers := make([]string, len(req.Prompts))
		for i, p := range req.Prompts {
			answers[i] = p.Response
		}
		return answers, nil
	})
}
