package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func check(e error) {
	if e != nil {
		fmt.Printf("%v\n", e.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "datawallet",
	Short:   "Datawallet turns inbound email into wallets recorded on a ledger",
	Long:    `Datawallet receives email from a mail transport, validates its authentication, asks the owner for consent when needed and stores the email and its attachments as wallets on IPFS or S3, recorded on a ledger.`,
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		// empty
	},
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
