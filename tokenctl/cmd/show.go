package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showID string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the actual token value",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		t, err := store.Get(showID)
		if err != nil {
			return err
		}
		fmt.Printf("Token ID: %s\n", showID)
		fmt.Printf("Token: %s\n", t.Token)
		fmt.Printf("Description: %s\n", t.Description)
		fmt.Printf("Created: %s\n", t.Created)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showID, "id", "", "token ID to show")
	showCmd.MarkFlagRequired("id")
}
