package sdk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const keyringService = "logsentry"

// Credentials is the local credentials file written by the CLI after a
// successful device-auth poll and read by the SDK on init (§6.3).
type Credentials struct {
	APIKey  string `json:"api_key"`
	DSN     string `json:"dsn"`
	AppID   string `json:"app_id"`
	AppName string `json:"app_name"`
}

// credentialsPath returns the implementation-defined path under the user's
// home directory for the local credentials file.
func credentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, ".logsentry", "credentials.json"), nil
}

// LoadCredentials reads the local credentials file, returning
// (nil, nil) if it does not exist.
func LoadCredentials() (*Credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading credentials file %s: %w", path, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	return &creds, nil
}

// SaveCredentials writes the credentials file with 0600 permissions,
// creating the parent directory if needed. Called only by the CLI after a
// successful device-auth poll.
func SaveCredentials(creds *Credentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file %s: %w", path, err)
	}

	// Best-effort mirror into the OS keychain so other tools on the same
	// machine can retrieve the key without reading the plaintext file.
	_ = keyring.Set(keyringService, creds.AppName, creds.APIKey)
	return nil
}

// DeleteCredentials removes the local credentials file and its OS-keychain
// mirror, if present.
func DeleteCredentials() error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}

	creds, loadErr := LoadCredentials()
	if loadErr == nil && creds != nil {
		_ = keyring.Delete(keyringService, creds.AppName)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file %s: %w", path, err)
	}
	return nil
}
