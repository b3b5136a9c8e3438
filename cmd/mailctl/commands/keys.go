package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unclebandit/mailflow-backend/internal/vault"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a mailbox password read from stdin",
	Long: `Encrypt reads one line from stdin and prints the token to store
in smtp_accounts.encrypted_password or imap_encrypted_password.`,
	Args: cobra.NoArgs,
	RunE: runEncrypt,
}

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the master key in the OS keyring",
}

var keyringSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the master key read from stdin",
	Args:  cobra.NoArgs,
	RunE:  runKeyringSet,
}

func init() {
	keyringCmd.AddCommand(keyringSetCmd)
}

func readLine(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no input on stdin")
	}
	line := strings.TrimRight(scanner.Text(), "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	cfg, _ := loadConfig()

	key, err := vault.ResolveMasterKey(cfg.EncryptionKey, vault.OpenKeyStore)
	if err != nil {
		return err
	}

	secret, err := readLine(cmd)
	if err != nil {
		return err
	}

	token, err := vault.New(key).Encrypt(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runKeyringSet(cmd *cobra.Command, args []string) error {
	key, err := readLine(cmd)
	if err != nil {
		return err
	}

	store, err := vault.OpenKeyStore()
	if err != nil {
		return err
	}
	if err := store.SetMasterKey(key); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "master key stored")
	return nil
}
