package connection

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"sshFleet/internal/models"
)

func testSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func testKeyPEM(t *testing.T, passphrase string) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

type fakeKeyring struct {
	signers []ssh.Signer
	err     error
}

func (k *fakeKeyring) Signers() ([]ssh.Signer, error) { return k.signers, k.err }

// scriptedPrompter answers every prompt with a fixed response.
type scriptedPrompter struct {
	answer string
	seen   []*AuthenticationRequest
}

func (p *scriptedPrompter) Prompt(ctx context.Context, req *AuthenticationRequest) error {
	p.seen = append(p.seen, req)
	for i := range req.Prompts {
		req.Prompts[i].Response = p.answer
	}
	return nil
}

// blockingPrompter never answers; it waits out the context.
type blockingPrompter struct{}

func (blockingPrompter) Prompt(ctx context.Context, req *AuthenticationRequest) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMethodsPassword(t *testing.T) {
	f := &MethodFactory{}

	methods, err := f.Methods(Material{Type: models.AuthPassword, Password: "hunter2"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestMethodsPasswordMissing(t *testing.T) {
	f := &MethodFactory{}

	_, err := f.Methods(Material{Type: models.AuthPassword})
	require.Error(t, err)
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))
}

func TestMethodsUnknownType(t *testing.T) {
	f := &MethodFactory{}

	_, err := f.Methods(Material{Type: models.AuthType("kerberos")})
	require.Error(t, err)
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))
}

func TestMethodsKeyInline(t *testing.T) {
	f := &MethodFactory{}

	methods, err := f.Methods(Material{Type: models.AuthPrivateKey, KeyPEM: testKeyPEM(t, "")})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestMethodsKeyFromFile(t *testing.T) {
	f := &MethodFactory{}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, testKeyPEM(t, ""), 0600))

	methods, err := f.Methods(Material{Type: models.AuthPrivateKey, KeyPath: keyPath})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestMethodsKeyWithPassphrase(t *testing.T) {
	f := &MethodFactory{}
	pem := testKeyPEM(t, "sekret")

	_, err := f.Methods(Material{Type: models.AuthPrivateKey, KeyPEM: pem})
	require.Error(t, err, "encrypted key without passphrase must fail")
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))

	methods, err := f.Methods(Material{Type: models.AuthPrivateKey, KeyPEM: pem, Passphrase: "sekret"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestMethodsKeyMissing(t *testing.T) {
	f := &MethodFactory{}

	_, err := f.Methods(Material{Type: models.AuthPrivateKey})
	require.Error(t, err)
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))

	_, err = f.Methods(Material{Type: models.AuthPrivateKey, KeyPath: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))
}

func TestMethodsAgentExpandsPerKey(t *testing.T) {
	f := &MethodFactory{Agent: &fakeKeyring{signers: []ssh.Signer{testSigner(t), testSigner(t)}}}

	methods, err := f.Methods(Material{Type: models.AuthAgent})
	require.NoError(t, err)
	assert.Len(t, methods, 2, "each agent key gets its own method so rejections fall through")
}

func TestMethodsAgentUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		factory *MethodFactory
	}{
		{"no agent wired", &MethodFactory{}},
		{"empty keyring", &MethodFactory{Agent: &fakeKeyring{}}},
		{"enumeration fails", &MethodFactory{Agent: &fakeKeyring{err: fmt.Errorf("agent refused")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.factory.Methods(Material{Type: models.AuthAgent})
			require.Error(t, err)
			assert.Equal(t, InvalidConfiguration, ReasonOf(err))
		})
	}
}

func TestMethodsKeyboardInteractiveNeedsPrompter(t *testing.T) {
	f := &MethodFactory{}

	_, err := f.Methods(Material{Type: models.AuthKeyboardInteractive})
	require.Error(t, err)
	assert.Equal(t, InvalidConfiguration, ReasonOf(err))
}

func TestFingerprintNeverExposesSecret(t *testing.T) {
	m := Material{Type: models.AuthPassword, Password: "hunter2"}
	assert.NotContains(t, m.Fingerprint(), "hunter2")

	k := Material{Type: models.AuthPrivateKey, KeyPath: "/keys/id_ed25519", Passphrase: "sekret"}
	assert.NotContains(t, k.Fingerprint(), "sekret")
	assert.Contains(t, k.Fingerprint(), "/keys/id_ed25519")
}
