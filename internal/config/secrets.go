package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretStore supplies secrets that are not set through the environment.
type secretStore interface {
	Get(key string) (string, error)
}

// fileSecrets reads secrets from a 0600 JSON file outside the config dir,
// keyed by config key (e.g. "server.api_token").
type fileSecrets struct {
	path string
}

func newFileSecrets() fileSecrets {
	return fileSecrets{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir := xdgHome("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, appName, "secrets.json")
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(key string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}

func (f fileSecrets) Set(key, value string) error {
	secrets, err := f.read()
	if err != nil || secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[key] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
