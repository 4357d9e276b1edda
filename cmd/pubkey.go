package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/spf13/cobra"
)

var keyFile string

func init() {
	pubkeyCmd.Flags().StringVarP(&keyFile, "keyFile", "f", "", "json file created by the keys command")
	pubkeyCmd.MarkFlagRequired("keyFile")
	rootCmd.AddCommand(pubkeyCmd)
}

// pubkeyCmd prints the public key ledger verifiers check wallet record signatures against
var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the public key of a server key file",
	Long:  "Print the base64 public key that verifies the signatures of recorded wallets",
	Run: func(cmd *cobra.Command, args []string) {
		content, err := os.ReadFile(keyFile)
		check(err)
		var keys types.ServerKeys
		check(json.Unmarshal(content, &keys))
		if keys.Type != serverKeysType {
			fmt.Printf("Invalid key file: %s\n", keyFile)
			os.Exit(1)
		}
		privateKeyBytes, err := base64.StdEncoding.DecodeString(keys.PrivateKey)
		check(err)
		if len(privateKeyBytes) != ed25519.PrivateKeySize {
			fmt.Printf("Invalid length of private key (must be %d but is %d): %s\n", ed25519.PrivateKeySize, len(privateKeyBytes), keyFile)
			os.Exit(1)
		}
		publicKey := ed25519.PrivateKey(privateKeyBytes).Public().(ed25519.PublicKey)
		fmt.Printf("%s\n", base64.StdEncoding.EncodeToString(publicKey))
	},
}
