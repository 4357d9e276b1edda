package main

import (
	"encoding/json"
	"fmt"

	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/spf13/cobra"
)

var (
	attachmentCount int
	emailBase       int
	attachmentRate  int
	authorization   int
)

func init() {
	creditsCmd.Flags().IntVarP(&attachmentCount, "attachments", "n", 0, "number of attachments")
	creditsCmd.Flags().IntVar(&emailBase, "email-base", 3, "credits for the email wallet")
	creditsCmd.Flags().IntVar(&attachmentRate, "attachment", 2, "credits per attachment wallet")
	creditsCmd.Flags().IntVar(&authorization, "authorization", 1, "credits for the authorization")
	rootCmd.AddCommand(creditsCmd)
}

// creditsCmd prints the credit estimate for an email with n attachments
var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Estimate credits for an email",
	Long:  "Estimate the credits an email with the given number of attachments costs",
	Run: func(cmd *cobra.Command, args []string) {
		if attachmentCount < 0 {
			check(fmt.Errorf("attachments must not be negative"))
		}
		calculator := services.NewCreditCalculator(global.CreditsConfig{
			EmailBase:     emailBase,
			Attachment:    attachmentRate,
			Authorization: authorization,
		})
		out, err := json.MarshalIndent(calculator.Calculate(attachmentCount), "", "  ")
		check(err)
		fmt.Printf("%s\n", string(out))
	},
}
