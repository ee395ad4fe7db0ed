//go:build !windows

package session

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Shell runs the interactive shell for an SSH-backed session on the local
// terminal: pty request, raw mode, and window resizes.
type Shell struct {
	session  *ssh.Session
	termType string
	stop     chan struct{}
}

// NewShell opens a shell on the session's SSH connection. The session must
// be connected and SSH-backed.
func NewShell(s *Session) (*Shell, error) {
	conn := s.SSH()
	if conn == nil {
		return nil, fmt.Errorf("session %s has no ssh connection", s.ID)
	}
	sess, err := conn.Client().NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create shell session: %w", err)
	}

	termType := "xterm-256color"
	if s.Host != nil && s.Host.TerminalType != "" {
		termType = s.Host.TerminalType
	}
	return &Shell{session: sess, termType: termType, stop: make(chan struct{})}, nil
}

// Run takes over the local terminal until the remote shell exits.
func (sh *Shell) Run() error {
	defer sh.session.Close()

	fd := int(os.Stdin.Fd())
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width, height = 80, 24
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sh.session.RequestPty(sh.termType, height, width, modes); err != nil {
		return fmt.Errorf("failed to request pty: %w", err)
	}

	sh.session.Stdin = os.Stdin
	sh.session.Stdout = os.Stdout
	sh.session.Stderr = os.Stderr

	rawState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw terminal: %w", err)
	}
	defer func() {
		if err := term.Restore(fd, rawState); err != nil {
			fmt.Fprintf(os.Stderr, "failed to restore terminal state: %v\n", err)
		}
	}()

	go sh.watchResize()
	defer close(sh.stop)

	if err := sh.session.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	if err := sh.session.Wait(); err != nil {
		// Normal exits come back as exit-status errors; don't surface them.
		msg := err.Error()
		if !strings.Contains(msg, "exit status") && !strings.Contains(msg, "signal:") {
			return fmt.Errorf("shell ended with error: %w", err)
		}
	}
	return nil
}

func (sh *Shell) watchResize() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				sh.session.WindowChange(h, w)
			}
		case <-sh.stop:
			return
		}
	}
}

// Exec runs a single command on a connected SSH session and returns its
// combined output. Broadcast fan-out uses this per selected session.
func Exec(s *Session, command string) ([]byte, error) {
	conn := s.SSH()
	if conn == nil {
		return nil, fmt.Errorf("session %s has no ssh connection", s.ID)
	}
	sess, err := conn.Client().NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create exec session: %w", err)
	}
	defer sess.Close()
	return sess.CombinedOutput(command)
}
