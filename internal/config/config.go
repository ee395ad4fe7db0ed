// Package config persists host, credential, and forwarding-profile records
// as JSON under the user config directory. The orchestration core consumes
// these records but never writes them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sshFleet/internal/models"
)

const (
	DefaultConfigFileName = "ssh_fleet.json"
	DefaultConfigDir      = ".config/sshfleet"
	DefaultFilePerms      = 0600
	knownHostsFileName    = "known_hosts"
)

type Manager struct {
	configPath string
	config     *models.Config
}

// GetDefaultConfigPath returns ~/.config/sshfleet/ssh_fleet.json.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFileName), nil
}

// KnownHostsPath returns the known_hosts file kept next to the config.
func KnownHostsPath() (string, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(configPath), "ssh", knownHostsFileName), nil
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func NewManager(configPath string) *Manager {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			configPath = defaultPath
		} else {
			configPath = DefaultConfigFileName
		}
	}
	return &Manager{
		configPath: configPath,
		config:     &models.Config{},
	}
}

// Load reads the config file, creating an empty one on first run.
func (m *Manager) Load() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.config = &models.Config{
				Hosts:     make([]models.Host, 0),
				Passwords: make([]models.Password, 0),
				Keys:      make([]models.Key, 0),
				Forwards:  make([]models.PortForwardingProfile, 0),
			}
			return m.Save()
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Save writes the config with owner-only permissions.
func (m *Manager) Save() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, DefaultFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (m *Manager) GetHosts() []models.Host { return m.config.Hosts }

func (m *Manager) GetHost(name string) (*models.Host, bool) {
	for i := range m.config.Hosts {
		if m.config.Hosts[i].Name == name {
			return &m.config.Hosts[i], true
		}
	}
	return nil, false
}

func (m *Manager) AddHost(host models.Host) error {
	if _, exists := m.GetHost(host.Name); exists {
		return fmt.Errorf("host %q already exists", host.Name)
	}
	m.config.Hosts = append(m.config.Hosts, host)
	return nil
}

func (m *Manager) RemoveHost(name string) {
	for i := range m.config.Hosts {
		if m.config.Hosts[i].Name == name {
			m.config.Hosts = append(m.config.Hosts[:i], m.config.Hosts[i+1:]...)
			return
		}
	}
}

func (m *Manager) GetPasswords() []models.Password { return m.config.Passwords }

func (m *Manager) GetPassword(id int) (*models.Password, bool) {
	if id < 0 || id >= len(m.config.Passwords) {
		return nil, false
	}
	return &m.config.Passwords[id], true
}

func (m *Manager) AddPassword(p models.Password) {
	m.config.Passwords = append(m.config.Passwords, p)
}

func (m *Manager) GetKeys() []models.Key { return m.config.Keys }

func (m *Manager) GetKey(id int) (*models.Key, bool) {
	if id < 0 || id >= len(m.config.Keys) {
		return nil, false
	}
	return &m.config.Keys[id], true
}

func (m *Manager) AddKey(k models.Key) {
	m.config.Keys = append(m.config.Keys, k)
}

// GetForwards returns the stored forwarding profiles for a host.
func (m *Manager) GetForwards(hostName string) []models.PortForwardingProfile {
	var out []models.PortForwardingProfile
	for _, p := range m.config.Forwards {
		if p.HostName == hostName {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) AddForward(p models.PortForwardingProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.config.Forwards = append(m.config.Forwards, p)
	return nil
}
