package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	generateID          string
	generateDescription string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		t, err := store.Generate(generateID, generateDescription)
		if err != nil {
			return err
		}
		fmt.Println("Generated new token:")
		fmt.Printf("  ID: %s\n", generateID)
		fmt.Printf("  Token: %s\n", t.Token)
		fmt.Printf("  Description: %s\n", t.Description)
		fmt.Println("\nSave this token securely - it won't be shown again!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateID, "id", "", "unique identifier for the token")
	generateCmd.Flags().StringVar(&generateDescription, "description", "", "description of the token usage")
	generateCmd.MarkFlagRequired("id")
}
