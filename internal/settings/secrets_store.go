package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProviderOpenRouter is the provider id the request client's key is stored under.
const ProviderOpenRouter = "openrouter"

// SecretsStore persists provider API keys to <state_dir>/secrets.json.
//
// It is kept apart from config.yaml so the config can be shared or committed. Keys are never
// printed back; callers only learn whether one is set.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

type secretsFile struct {
	SchemaVersion   int               `json:"schema_version"`
	ProviderAPIKeys map[string]string `json:"provider_api_keys,omitempty"`
}

// APIKey returns the stored key for provider. ok is false when none is stored.
func (s *SecretsStore) APIKey(provider string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", false, errors.New("missing provider id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	v := strings.TrimSpace(sf.ProviderAPIKeys[provider])
	return v, v != "", nil
}

func (s *SecretsStore) HasAPIKey(provider string) (bool, error) {
	_, ok, err := s.APIKey(provider)
	return ok, err
}

func (s *SecretsStore) SetAPIKey(provider string, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("missing api key")
	}
	return s.update(provider, &apiKey)
}

func (s *SecretsStore) ClearAPIKey(provider string) error {
	return s.update(provider, nil)
}

// update sets or, when apiKey is nil, removes the key for provider.
func (s *SecretsStore) update(provider string, apiKey *string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("missing provider id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf.ProviderAPIKeys == nil {
		sf.ProviderAPIKeys = make(map[string]string)
	}
	if apiKey == nil {
		delete(sf.ProviderAPIKeys, provider)
	} else {
		sf.ProviderAPIKeys[provider] = *apiKey
	}
	if len(sf.ProviderAPIKeys) == 0 {
		sf.ProviderAPIKeys = nil
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	if s.path == "" || s.path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, err
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ResolveAPIKey prefers the environment-provided key, then the secrets file.
func ResolveAPIKey(envKey string, store *SecretsStore, provider string) (string, error) {
	if v := strings.TrimSpace(envKey); v != "" {
		return v, nil
	}
	if store == nil {
		return "", errors.New("no api key configured")
	}
	v, ok, err := store.APIKey(provider)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("no api key configured: set OPENROUTER_API_KEY or run `wakeloop secrets set-key`")
	}
	return v, nil
}
