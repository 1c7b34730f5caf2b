package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tokens (without showing token values)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		ids := store.IDs()
		if len(ids) == 0 {
			fmt.Println("No tokens found")
			return nil
		}
		fmt.Printf("%-20s %-40s %-25s\n", "ID", "Description", "Created")
		for _, id := range ids {
			t, err := store.Get(id)
			if err != nil {
				continue
			}
			fmt.Printf("%-20s %-40s %-25s\n", id, t.Description, t.Created)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
