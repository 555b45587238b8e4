package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretConfig maps a target to a secret held in a file or env var.
type SecretConfig struct {
	Target     string `yaml:"target"`
	Type       string `yaml:"type"`       // "Bearer", "APIKey", "Basic"
	FilePath   string `yaml:"filePath"`   // file containing the secret, re-read on every call
	EnvVar     string `yaml:"envVar"`     // env var containing the secret (fallback if FilePath empty)
	HeaderName string `yaml:"headerName"` // header name for APIKey type (default: "Authorization")
	Username   string `yaml:"username"`   // Basic only: the secret is the password and is encoded with this user
}

// SecretProvider reads credentials from mounted files or environment
// variables, so rotated secrets are picked up without a restart.
type SecretProvider struct {
	mu      sync.RWMutex
	configs map[string]SecretConfig
}

// NewSecretProvider creates a provider from a set of secret configs.
func NewSecretProvider(configs []SecretConfig) *SecretProvider {
	p := &SecretProvider{}
	p.Update(configs)
	return p
}

// Update replaces the configured secrets.
func (s *SecretProvider) Update(configs []SecretConfig) {
	m := make(map[string]SecretConfig, len(configs))
	for _, c := range configs {
		m[c.Target] = c
	}
	s.mu.Lock()
	s.configs = m
	s.mu.Unlock()
}

// GetCredentials reads the secret for the given target.
func (s *SecretProvider) GetCredentials(_ context.Context, target string) (*Credentials, error) {
	s.mu.RLock()
	cfg, ok := s.configs[target]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	token, err := readSecret(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth secret for %s: %w", target, err)
	}
	if cfg.Type == TypeBasic && cfg.Username != "" {
		token = base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + token))
	}
	return NewCredentials(cfg.Type, token, cfg.HeaderName), nil
}

func readSecret(cfg SecretConfig) (string, error) {
	if cfg.FilePath != "" {
		data, err := os.ReadFile(filepath.Clean(cfg.FilePath))
		if err != nil {
			return "", fmt.Errorf("read file %s: %w", cfg.FilePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if cfg.EnvVar != "" {
		val := os.Getenv(cfg.EnvVar)
		if val == "" {
			return "", fmt.Errorf("env var %s is empty", cfg.EnvVar)
		}
		return val, nil
	}
	return "", errors.New("no file path or env var configured")
}
