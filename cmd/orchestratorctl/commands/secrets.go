package commands

import (
	"bytes"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"orchestrator/internal/printer"
	"orchestrator/pkg/config"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage encrypted-at-rest credentials (GIT_TOKEN, AI adapter API keys)",
	Long:  `secrets stores GIT_TOKEN and AI adapter API keys scrypt+AES-GCM encrypted under the configured runtime base path, instead of plaintext environment variables, for "orchestratorctl serve" to load at startup.`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Encrypt and store one secret, merging it into the existing secrets file",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretsSet,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	rootCmd.AddCommand(secretsCmd)
}

// readPassword reads one password from the controlling terminal.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(value), nil
}

// promptPassword reads a password from the controlling terminal twice and
// requires the two entries to match, the same confirmation idiom the
// teacher's interactive bootstrap uses for its project password. Used
// when a new or replacement secrets file is about to be written.
func promptPassword() (string, error) {
	first, err := readPassword("Enter secrets password: ")
	if err != nil {
		return "", err
	}
	second, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if !bytes.Equal([]byte(first), []byte(second)) {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// unlockPassword reads a single password entry, for decrypting a secrets
// file that already exists.
func unlockPassword() (string, error) {
	return readPassword("Enter secrets password to unlock: ")
}

func runSecretsSet(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}

	password, err := promptPassword()
	if err != nil {
		return printer.Error("Failed to read password", err.Error(), nil)
	}

	secrets := map[string]string{}
	if config.SecretsFileExists(cfg.RuntimeBasePath) {
		secrets, err = config.DecryptSecretsFile(cfg.RuntimeBasePath, password)
		if err != nil {
			return printer.Error("Failed to unlock existing secrets file", err.Error(), nil)
		}
	}
	secrets[args[0]] = args[1]

	if err := config.EncryptSecretsFile(cfg.RuntimeBasePath, password, secrets); err != nil {
		return printer.Error("Failed to encrypt secrets", err.Error(), nil)
	}

	printer.Success("stored secret %s\n", args[0])
	return nil
}
