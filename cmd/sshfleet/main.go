package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"sshFleet/internal/config"
	"sshFleet/internal/connection"
	"sshFleet/internal/crypto"
	"sshFleet/internal/forward"
	"sshFleet/internal/session"
	"sshFleet/internal/ui"
)

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if os.Getenv("SSHFLEET_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}

	// The terminal belongs to bubbletea; logs go to a file next to the
	// config.
	if configPath, err := config.GetDefaultConfigPath(); err == nil {
		logPath := filepath.Join(filepath.Dir(configPath), "sshfleet.log")
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			log.SetOutput(f)
		}
	}
	return logrus.NewEntry(log)
}

func readMasterPassword() (string, error) {
	fmt.Print("Master password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read master password: %w", err)
	}
	return string(raw), nil
}

func main() {
	log := newLogger()

	master, err := readMasterPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cipher := crypto.NewCipher(master)

	store := config.NewManager("")
	if err := store.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	creds := config.NewCredentials(store, cipher)

	prompter := ui.NewTeaPrompter()

	knownHostsPath, err := config.KnownHostsPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve known_hosts path: %v\n", err)
		os.Exit(1)
	}
	hostKeys, err := connection.NewKnownHosts(knownHostsPath, prompter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare known_hosts: %v\n", err)
		os.Exit(1)
	}

	factory := &connection.MethodFactory{Prompter: prompter}
	if keyring, err := connection.NewEnvAgent(); err == nil {
		factory.Agent = keyring
	} else {
		log.WithField("error", err).Debug("ssh agent unavailable")
	}

	builder := &connection.ChainBuilder{
		Dialer:   connection.NetDialer{},
		Factory:  factory,
		HostKeys: hostKeys.Callback(),
		Log:      log,
	}
	pool := connection.NewPool(builder, connection.PoolConfig{}, log)
	defer pool.Close()

	forwards := forward.NewService(log)
	sessions := session.NewManager(forwards, log)
	defer sessions.CloseAllSessions()

	deps := ui.Deps{
		Store:    store,
		Creds:    creds,
		Pool:     pool,
		Forwards: forwards,
		Sessions: sessions,
		Log:      log,
	}

	model := ui.NewModel(deps)
	for {
		p := tea.NewProgram(model, tea.WithAltScreen())
		prompter.SetProgram(p)
		cancelEvents := ui.ForwardEvents(p, sessions)

		out, err := p.Run()
		cancelEvents()
		if err != nil {
			if !strings.Contains(err.Error(), "program was killed") &&
				!strings.Contains(err.Error(), "context canceled") {
				fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
				os.Exit(1)
			}
		}

		model = out.(*ui.Model)
		if model.PendingShell == "" {
			break
		}

		// Shell handoff: release the terminal, run the interactive shell,
		// then restart the program loop with the same state.
		id := model.PendingShell
		model.PendingShell = ""
		if s, ok := sessions.Get(id); ok {
			if err := p.ReleaseTerminal(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to release terminal: %v\n", err)
				continue
			}
			shell, err := session.NewShell(s)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to open shell: %v\n", err)
				continue
			}
			if err := shell.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Shell error: %v\n", err)
			}
		}
	}
}
