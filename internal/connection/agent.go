package connection

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// envAgent enumerates keys from the agent at SSH_AUTH_SOCK. The socket is
// dialed lazily and kept for the lifetime of the keyring.
type envAgent struct {
	conn   net.Conn
	client agent.ExtendedAgent
}

// NewEnvAgent connects to the SSH agent named by SSH_AUTH_SOCK. Returns an
// error when no agent is reachable; callers treat a nil keyring as "no
// agent".
func NewEnvAgent() (AgentKeyring, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ssh agent: %w", err)
	}
	return &envAgent{conn: conn, client: agent.NewClient(conn)}, nil
}

func (a *envAgent) Signers() ([]ssh.Signer, error) {
	return a.client.Signers()
}

func (a *envAgent) Close() error {
	return a.conn.Close()
}
