package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanwatch/scanwatch/internal/auth"
)

var keysHash bool

// keysCmd groups API key utilities.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "API key utilities",
}

// keysGenerateCmd mints a new API key for the daemon config.
var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Generate a random API key. The plaintext is printed once; with
--hash a bcrypt hash suitable for the config file is printed alongside it,
so the plaintext never has to be stored on the server.`,
	RunE: runKeysGenerate,
}

func init() {
	keysGenerateCmd.Flags().BoolVar(&keysHash, "hash", false, "also print the bcrypt hash for config storage")
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysGenerate(_ *cobra.Command, _ []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}

	fmt.Printf("API key:  %s\n", key)
	fmt.Printf("Prefix:   %s\n", auth.CreateDisplayPrefix(key))

	if keysHash {
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}
		fmt.Printf("Hash:     %s\n", hash)
	}

	fmt.Println("\nStore the key (or its hash) under api.api_keys in the daemon config.")
	return nil
}
