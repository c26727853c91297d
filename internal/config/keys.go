package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"localchat/internal/crypto"
)

// Key names understood by the KeyStore.
const (
	KeyOllama      = "ollama"
	KeyBrave       = "brave"
	KeyGoogle      = "google"
	KeyGoogleCSEID = "google_cse_id"
	KeyOpenAI      = "openai"
)

// KeyStore holds API keys set at runtime. Persisted keys take precedence over
// the environment values the store was seeded with.
type KeyStore struct {
	mu    sync.RWMutex
	path  string
	env   map[string]string
	saved map[string]string
}

// NewKeyStore loads path (if it exists) on top of the environment values in cfg.
func NewKeyStore(path string, cfg *Config) (*KeyStore, error) {
	ks := &KeyStore{
		path:  path,
		saved: map[string]string{},
		env: map[string]string{
			KeyOllama:      cfg.Ollama.APIKey,
			KeyBrave:       cfg.Search.BraveAPIKey,
			KeyGoogle:      cfg.Search.GoogleAPIKey,
			KeyGoogleCSEID: cfg.Search.GoogleCSEID,
			KeyOpenAI:      cfg.OpenAI.APIKey,
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ks, nil
	}
	if err != nil {
		return ks, fmt.Errorf("read keys: %w", err)
	}
	var sealed map[string]string
	if err := json.Unmarshal(data, &sealed); err != nil {
		return ks, fmt.Errorf("parse %s: %w", path, err)
	}
	ks.saved = crypto.OpenMap(ks.scope(), sealed)
	return ks, nil
}

func (k *KeyStore) scope() string {
	if abs, err := filepath.Abs(filepath.Dir(k.path)); err == nil {
		return abs
	}
	return filepath.Dir(k.path)
}

// Get returns the effective key for name.
func (k *KeyStore) Get(name string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if v := k.saved[name]; v != "" {
		return v
	}
	return k.env[name]
}

// Set stores value for name and persists the store. Masked values echoed back
// by the settings UI are ignored.
func (k *KeyStore) Set(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" || strings.Contains(value, "...") {
		return nil
	}
	k.mu.Lock()
	k.saved[name] = value
	snapshot := make(map[string]string, len(k.saved))
	for n, v := range k.saved {
		snapshot[n] = v
	}
	k.mu.Unlock()
	return k.persist(snapshot)
}

func (k *KeyStore) persist(keys map[string]string) error {
	sealed, err := crypto.SealMap(k.scope(), keys)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, data, 0o600)
}

// Masked returns every known key name with a masked value.
func (k *KeyStore) Masked() map[string]string {
	names := []string{KeyOllama, KeyBrave, KeyGoogle, KeyGoogleCSEID, KeyOpenAI}
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = MaskKey(k.Get(n))
	}
	return out
}

// Names lists the keys that currently have a value.
func (k *KeyStore) Names() []string {
	var names []string
	for n, v := range k.Masked() {
		if v != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func MaskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
