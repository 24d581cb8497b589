package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API token",
	Long: `Show the admin token of the running server.

Use this when you've scrolled past the startup message and need the
token for the admin API.

Example:
  abtest token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	tokenFile := getTokenFilePath()

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: abtest serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := string(data)
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: abtest serve")
	}

	fmt.Printf("Admin token: %s\n", token)
	fmt.Println()
	fmt.Println("Use it as a Bearer token against the /api endpoints.")
	return nil
}
