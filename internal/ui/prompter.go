package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"sshFleet/internal/connection"
)

// promptMsg carries an authentication challenge from a dialing goroutine
// into the program loop. done receives the outcome once the user answered.
type promptMsg struct {
	req  *connection.AuthenticationRequest
	done chan error
}

// trustMsg carries a host-key confirmation into the program loop.
type trustMsg struct {
	host        string
	keyType     string
	fingerprint string
	done        chan connection.TrustDecision
}

// TeaPrompter bridges the blocking Prompter/TrustPrompter interfaces onto a
// running bubbletea program. Dialing goroutines post messages and wait;
// the model answers through the done channels.
type TeaPrompter struct {
	program *tea.Program
}

func NewTeaPrompter() *TeaPrompter { return &TeaPrompter{} }

// SetProgram must be called before any connect is started.
func (p *TeaPrompter) SetProgram(program *tea.Program) { p.program = program }

func (p *TeaPrompter) Prompt(ctx context.Context, req *connection.AuthenticationRequest) error {
	if p.program == nil {
		return fmt.Errorf("no program attached")
	}
	done := make(chan error, 1)
	p.program.Send(promptMsg{req: req, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TeaPrompter) ConfirmHostKey(host, keyType, fingerprint string) connection.TrustDecision {
	if p.program == nil {
		return connection.TrustReject
	}
	done := make(chan connection.TrustDecision, 1)
	p.program.Send(trustMsg{host: host, keyType: keyType, fingerprint: fingerprint, done: done})
	return <-done
}
