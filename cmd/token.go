package main

import (
	"fmt"

	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/spf13/cobra"
)

var hashOnly string

func init() {
	tokenCmd.Flags().StringVar(&hashOnly, "hash", "", "print the stored hash of an existing token")
	rootCmd.AddCommand(tokenCmd)
}

// tokenCmd generates an authorization token and the hash the server stores for it
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an authorization token",
	Long:  "Generate an authorization token and its hash, or hash an existing token to look it up in the database",
	Run: func(cmd *cobra.Command, args []string) {
		if hashOnly != "" {
			fmt.Printf("%s\n", util.HashToken(hashOnly))
			return
		}
		token, err := util.GenerateToken()
		check(err)
		fmt.Printf("token: %s\nhash:  %s\n", token, util.HashToken(token))
	},
}
