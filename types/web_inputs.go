package types

// InputInboundEmail is delivered by the mail transport (webhook)
type InputInboundEmail struct {
	Email        *IncomingEmailMessage `json:"email" validate:"required"`
	SpfVerdict   *VerdictStatus        `json:"spfVerdict,omitempty"`   // optinal, spf verdict
	DkimVerdict  *VerdictStatus        `json:"dkimVerdict,omitempty"`  // optional, dkim verdict
	DmarcVerdict *VerdictStatus        `json:"dmarcVerdict,omitempty"` // optional, dmarc verdict
}

// InputRegistration creates or updates a registration
type InputRegistration struct {
	WalletAddress    string        `json:"walletAddress" validate:"required"`
	EmailAddress     string        `json:"emailAddress" validate:"required,email"`
	IsVerified       bool          `json:"isVerified"`
	Settings         *UserSettings `json:"settings,omitempty"`
	WhitelistDomains []string      `json:"whitelistDomains,omitempty"`
}

type InputWhitelistEntry struct {
	Entry       string `json:"entry" validate:"required"`
	AutoProcess bool   `json:"autoProcess"`
}
