package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nDEFAULT_API_URL=https://api.example.com\nADMIN_TOKEN = abc123 \n\nbroken line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	values := loadEnvFile(path)
	assert.Equal(t, "https://api.example.com", values["DEFAULT_API_URL"])
	assert.Equal(t, "abc123", values["ADMIN_TOKEN"])
	assert.Len(t, values, 2)
}

func TestLoadEnvFileMissing(t *testing.T) {
	values := loadEnvFile(filepath.Join(t.TempDir(), "nope.env"))
	assert.Empty(t, values)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "a", firstNonEmpty("a"))
	assert.Empty(t, firstNonEmpty("", ""))
}

func TestGenerateSecureToken(t *testing.T) {
	first, err := generateSecureToken(32)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := generateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSetupWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	setupConfigPath = path
	setupAPIURL = "https://api.example.com"
	setupAPIKey = "sk-test"
	setupAdminToken = ""
	interactiveSetup = false
	t.Cleanup(func() {
		setupConfigPath = ".env"
		setupAPIURL = ""
		setupAPIKey = ""
		setupAdminToken = ""
	})

	runSetup(setupCmd, nil)

	values := loadEnvFile(path)
	assert.Equal(t, "https://api.example.com", values["DEFAULT_API_URL"])
	assert.Equal(t, "sk-test", values["DEFAULT_API_KEY"])
	assert.NotEmpty(t, values["ADMIN_TOKEN"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
