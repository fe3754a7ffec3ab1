package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - каталог Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

func secretsDir() string {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return dir
	}
	return DefaultSecretsDir
}

// ReadSecret читает обязательный секрет из файла <SECRETS_DIR>/<secretName>.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(secretsDir(), secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadOptionalSecret читает секрет; отсутствующий файл дает пустую строку.
func ReadOptionalSecret(secretName string) (string, error) {
	secret, err := ReadSecret(secretName)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return secret, err
}
