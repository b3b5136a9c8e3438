package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var syncAccount int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull recent mail from connected mailboxes",
	Long: `Sync fetches the most recent INBOX and Sent messages of every
active account with IMAP configured, or of one account with --account.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncAccount, "account", 0, "Sync only this account")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if syncAccount > 0 {
		res, err := a.Sync.SyncAccount(cmd.Context(), syncAccount)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) {
			if res.Error != "" {
				fmt.Fprintf(w, "account %d: failed: %s\n", res.AccountID, res.Error)
				return
			}
			fmt.Fprintf(w, "account %d: %d messages\n", res.AccountID, res.Messages)
		})
	}

	report, err := a.Sync.SyncAll(cmd.Context())
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), report, func(w io.Writer) {
		for _, acc := range report.Accounts {
			if acc.Error != "" {
				fmt.Fprintf(w, "account %d: failed: %s\n", acc.AccountID, acc.Error)
				continue
			}
			fmt.Fprintf(w, "account %d: %d messages\n", acc.AccountID, acc.Messages)
		}
		fmt.Fprintf(w, "%d messages, %d accounts failed\n", report.Messages, report.Failed)
	})
}
