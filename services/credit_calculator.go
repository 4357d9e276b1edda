package services

import (
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

// DefaultCreditRates: 3 for the email wallet, 2 per attachment wallet, 1 for the authorization
var DefaultCreditRates = types.CreditRates{EmailBase: 3, Attachment: 2, Authorization: 1}

type CreditCalculator struct {
	rates types.CreditRates
}

func NewCreditCalculator(conf global.CreditsConfig) *CreditCalculator {
	return &CreditCalculator{rates: types.CreditRates{
		EmailBase:     conf.EmailBase,
		Attachment:    conf.Attachment,
		Authorization: conf.Authorization,
	}}
}

// Rates returns the rates new estimates are computed with
func (c *CreditCalculator) Rates() types.CreditRates {
	return c.rates
}

// Calculate estimates credits for an email with attachmentCount attachments using the current rates
func (c *CreditCalculator) Calculate(attachmentCount int) *types.CreditCalculation {
	return CalculateCredits(c.rates, attachmentCount)
}

// CalculateCredits is total = emailBase + attachment*n + authorization. Negative counts are treated as 0.
func CalculateCredits(rates types.CreditRates, attachmentCount int) *types.CreditCalculation {
	if attachmentCount < 0 {
		attachmentCount = 0
	}
	breakdown := map[string]int{
		types.CreditEmailBase:     rates.EmailBase,
		types.CreditAttachments:   rates.Attachment * attachmentCount,
		types.CreditAuthorization: rates.Authorization,
	}
	total := 0
	for _, v := range breakdown {
		total += v
	}
	return &types.CreditCalculation{
		AttachmentCount: attachmentCount,
		Rates:           rates,
		Breakdown:       breakdown,
		Total:           total,
	}
}
