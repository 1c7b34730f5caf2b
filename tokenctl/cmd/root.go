package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcp-dev/jmcp/pkg/auth"
)

var tokensFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tokenctl",
	Short: "Manage API tokens for the jmcp server",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&tokensFile, "tokens-file", "f", ".tokens", "token store file")
}

func loadStore() (*auth.Store, error) {
	s := auth.NewStore(tokensFile)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}
