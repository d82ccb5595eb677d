package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Setup command flags
var (
	setupConfigPath  string
	setupAPIURL      string
	setupAPIKey      string
	setupAdminToken  string
	interactiveSetup bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up the relay configuration",
	Long:  `Write a .env file with the upstream defaults and an admin token.`,
	Run:   runSetup,
}

func init() {
	setupCmd.Flags().StringVarP(&setupConfigPath, "config", "c", ".env", "Path to write the configuration file")
	setupCmd.Flags().StringVar(&setupAPIURL, "api-url", "", "Default upstream base URL")
	setupCmd.Flags().StringVar(&setupAPIKey, "api-key", "", "Default upstream API key")
	setupCmd.Flags().StringVar(&setupAdminToken, "admin-token", "", "Admin token (generated when empty)")
	setupCmd.Flags().BoolVarP(&interactiveSetup, "interactive", "i", false, "Prompt for values interactively")
}

func runSetup(cmd *cobra.Command, args []string) {
	existing := loadEnvFile(setupConfigPath)

	if interactiveSetup {
		reader := bufio.NewReader(os.Stdin)
		fmt.Println("LLM Relay Setup")
		fmt.Println("===============")
		setupAPIURL = prompt(reader, "Default upstream URL", firstNonEmpty(setupAPIURL, existing["DEFAULT_API_URL"], "https://api.openai.com"))
		setupAPIKey = prompt(reader, "Default upstream API key (optional)", firstNonEmpty(setupAPIKey, existing["DEFAULT_API_KEY"]))
		setupAdminToken = prompt(reader, "Admin token (empty to generate)", firstNonEmpty(setupAdminToken, existing["ADMIN_TOKEN"]))
	} else {
		setupAPIURL = firstNonEmpty(setupAPIURL, existing["DEFAULT_API_URL"], "https://api.openai.com")
		setupAPIKey = firstNonEmpty(setupAPIKey, existing["DEFAULT_API_KEY"])
		setupAdminToken = firstNonEmpty(setupAdminToken, existing["ADMIN_TOKEN"])
	}

	generated := false
	if setupAdminToken == "" {
		token, err := generateSecureToken(32)
		if err != nil {
			fmt.Printf("Error generating admin token: %v\n", err)
			osExit(1)
			return
		}
		setupAdminToken = token
		generated = true
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("DEFAULT_API_URL=%s\n", setupAPIURL))
	if setupAPIKey != "" {
		b.WriteString(fmt.Sprintf("DEFAULT_API_KEY=%s\n", setupAPIKey))
	}
	b.WriteString(fmt.Sprintf("ADMIN_TOKEN=%s\n", setupAdminToken))

	// Carry over keys the prompts do not cover.
	for _, key := range []string{"LISTEN_ADDR", "STORE_BACKEND", "DATABASE_PATH", "DATABASE_URL", "REDIS_ADDR", "LOG_LEVEL", "LOG_FORMAT", "APP_ENV"} {
		if value, ok := existing[key]; ok {
			b.WriteString(fmt.Sprintf("%s=%s\n", key, value))
		}
	}

	if err := os.WriteFile(setupConfigPath, []byte(b.String()), 0600); err != nil {
		fmt.Printf("Error writing %s: %v\n", setupConfigPath, err)
		osExit(1)
		return
	}

	fmt.Printf("Configuration written to %s\n", setupConfigPath)
	if generated {
		fmt.Printf("Generated admin token: %s\n", setupAdminToken)
		fmt.Println("Keep this token safe; it is required for all admin API calls.")
	}
	fmt.Println("Start the server with: llm-relay server")
}

// loadEnvFile parses an existing KEY=VALUE file, returning an empty map
// when the file does not exist.
func loadEnvFile(path string) map[string]string {
	values := make(map[string]string)
	content, err := os.ReadFile(path)
	if err != nil {
		return values
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return values
}

func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}
	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateSecureToken returns a hex-encoded random token of n bytes.
func generateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
