package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "frontdesk"

// xdgHome returns $env, or ~/rel when it is unset, or "" when neither is known.
func xdgHome(env, rel string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, rel)
	}
	return ""
}

func defaultDataDir() string {
	dir := xdgHome("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		return appName + "-data"
	}
	return filepath.Join(dir, appName)
}

// ConfigFilePath returns where config set writes keys.
func ConfigFilePath() string {
	return configFilePath()
}

func configFilePath() string {
	dir := xdgHome("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, appName, "config.yaml")
}

// fileBackend keeps settings in a YAML document with one mapping per section:
//
//	escalation:
//	  window: 30m
//	  sweep_interval: 1m
//
// Flat dotted keys ("escalation.window": 30m) are read as well, so a
// hand-written JSON object also loads. Writes always use sections.
type fileBackend struct {
	path string
	doc  map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, doc: make(map[string]any)}
	if err := b.load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
	}
	return b
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", b.path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", b.path, err)
	}
	if doc != nil {
		b.doc = doc
	}
	return nil
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(b.doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

func splitKey(key string) (section, name string) {
	section, name, _ = strings.Cut(key, ".")
	return section, name
}

// lookup finds key under its section first, then as a flat dotted entry.
func (b *fileBackend) lookup(key string) (any, bool) {
	section, name := splitKey(key)
	if m, ok := b.doc[section].(map[string]any); ok {
		if v, ok := m[name]; ok && v != nil {
			return v, true
		}
	}
	v, ok := b.doc[key]
	return v, ok && v != nil
}

func (b *fileBackend) set(key string, v any) error {
	section, name := splitKey(key)
	delete(b.doc, key)
	m, ok := b.doc[section].(map[string]any)
	if !ok {
		m = make(map[string]any)
		b.doc[section] = m
	}
	m[name] = v
	return b.save()
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid integer for %s: %v", key, v)
	}
}

// GetDuration reads a Go duration such as "30m". A bare integer counts seconds.
func (b *fileBackend) GetDuration(key string) (time.Duration, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return 0, false, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		return d, true, nil
	case int:
		return time.Duration(val) * time.Second, true, nil
	default:
		return 0, true, fmt.Errorf("invalid duration for %s: %v", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	return b.set(key, val)
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.set(key, val)
}

func (b *fileBackend) SetDuration(key string, d time.Duration) error {
	return b.set(key, d.String())
}

func (b *fileBackend) Delete(key string) error {
	section, name := splitKey(key)
	delete(b.doc, key)
	if m, ok := b.doc[section].(map[string]any); ok {
		delete(m, name)
		if len(m) == 0 {
			delete(b.doc, section)
		}
	}
	return b.save()
}
