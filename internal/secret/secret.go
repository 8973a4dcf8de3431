// Package secret resolves the server's bcrypt pepper (config.AuthConfig.PepperRef)
// from an indirection reference rather than storing it in plaintext config.
package secret

import (
	"fmt"
	"os"
	"strings"
)

// Resolve parses a key reference and returns the secret it points to.
// Supported formats:
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/secret" (plain-text file)
func Resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "env:") {
		envVar := strings.TrimPrefix(ref, "env:")
		val := os.Getenv(envVar)
		if val == "" {
			return "", fmt.Errorf("environment variable %q is not set", envVar)
		}
		return val, nil
	}

	if strings.HasPrefix(ref, "file://") {
		filePath := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading secret file %q: %w", filePath, err)
		}
		val := strings.TrimSpace(string(data))
		if val == "" {
			return "", fmt.Errorf("secret file %q is empty", filePath)
		}
		return val, nil
	}

	return "", fmt.Errorf("invalid secret reference %q: expected \"env:VARIABLE_NAME\" or \"file:///path/to/secret\"", ref)
}
