package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revokeID string

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke (delete) a token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		if err := store.Revoke(revokeID); err != nil {
			return err
		}
		fmt.Printf("Token '%s' has been revoked\n", revokeID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().StringVar(&revokeID, "id", "", "token ID to revoke")
	revokeCmd.MarkFlagRequired("id")
}
