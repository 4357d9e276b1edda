package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/spf13/cobra"
)

const serverKeysType = "datawallet_server_keys_ed25519"

var outputFile string

func init() {
	keysCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default is stdout)")
	rootCmd.AddCommand(keysCmd)
}

// keysCmd generates the ed25519 keys the server signs wallet records with
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate ed25519 keys",
	Long:  "Generate ed25519 keys for signing wallet records (mailio.serverKeysPath in conf.yaml)",
	Run: func(cmd *cobra.Command, args []string) {
		public, private, err := util.GenerateEd25519KeyPair()
		check(err)
		keys := types.ServerKeys{
			Type:       serverKeysType,
			PublicKey:  *public,
			PrivateKey: *private,
			Created:    time.Now().UnixMilli(),
		}
		fileBytes, err := json.MarshalIndent(keys, "", "  ")
		check(err)
		if outputFile != "" {
			// fail if file already exists
			if _, err := os.Stat(outputFile); !errors.Is(err, os.ErrNotExist) {
				fmt.Printf("File already exists: %s\n", outputFile)
				os.Exit(1)
			}
			err = os.WriteFile(outputFile, fileBytes, 0600)
			check(err)
			fmt.Printf("Output file: %s\n", outputFile)
		} else {
			fmt.Printf("\n%s\n", string(fileBytes))
		}
	},
}
