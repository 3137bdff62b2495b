package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/securefolder/pkg/crypto"
	"github.com/forest6511/securefolder/pkg/vault"
)

// passwordCmd is the parent command for password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Vault password operations",
}

// passwordChangeCmd changes the vault password.
var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the vault password",
	Long: `Change the vault password.

The current password is verified again before the new digest replaces the
stored one. Files in the vault are not touched. The audit trail is re-signed
with a key derived from the new password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		return changePassword()
	},
}

func init() {
	passwordCmd.AddCommand(passwordChangeCmd)
}

// changePassword prompts for the current and new passwords and applies the
// change to the open session.
func changePassword() error {
	current, err := readPassword("Enter current password: ")
	defer crypto.SecureWipe(current)
	if err != nil {
		return err
	}
	next, err := readPassword("Enter new password: ")
	defer crypto.SecureWipe(next)
	if err != nil {
		return err
	}
	confirmation, err := readPassword("Confirm new password: ")
	defer crypto.SecureWipe(confirmation)
	if err != nil {
		return err
	}

	if err := sess.ChangePassword(string(current), string(next), string(confirmation)); err != nil {
		return fmt.Errorf("failed to change password: %w", friendlyError(err))
	}

	assessment := vault.AssessPassword(string(next))
	fmt.Printf("New password strength: %s\n", assessment.Strength)
	for _, warning := range assessment.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
	fmt.Println("Password changed successfully!")
	return nil
}
