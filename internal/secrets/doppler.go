// Package secrets resolves sensitive configuration through the Doppler CLI
package secrets

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runner executes the doppler CLI and returns its stdout
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// DopplerClient provides access to secrets stored in Doppler.
// Environment variables win so `doppler run` and plain .env setups behave the same.
type DopplerClient struct {
	Project string
	Config  string

	lookPath func(string) (string, error)
	run      runner
	ready    bool
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project:  project,
		Config:   config,
		lookPath: exec.LookPath,
		run:      execRunner,
	}
}

// Initialize checks that the Doppler CLI is installed
func (d *DopplerClient) Initialize() error {
	if d.ready {
		return nil
	}
	if _, err := d.lookPath("doppler"); err != nil {
		return fmt.Errorf("doppler CLI not found: %w", err)
	}
	d.ready = true
	return nil
}

// GetSecret retrieves a secret from the environment or from Doppler
func (d *DopplerClient) GetSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if err := d.Initialize(); err != nil {
		return "", err
	}

	output, err := d.run("doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetSecretWithFallback gets a secret, returning fallback when it cannot be resolved
func (d *DopplerClient) GetSecretWithFallback(key, fallback string) string {
	value, err := d.GetSecret(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}
