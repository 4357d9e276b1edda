package types

// UserRegistration is the processing-rights anchor of a wallet address
type UserRegistration struct {
	BaseDocument
	WalletAddress    string        `json:"walletAddress" validate:"required"` // unique key (0x...)
	EmailAddress     string        `json:"emailAddress" validate:"required,email"`
	IsVerified       bool          `json:"isVerified"`
	IsActive         bool          `json:"isActive"`
	Settings         *UserSettings `json:"settings,omitempty"`
	WhitelistDomains []string      `json:"whitelistDomains,omitempty"` // domains or addresses the owner accepts mail from
	EmailsProcessed  int64         `json:"emailsProcessed"`
	CreditsConsumed  int64         `json:"creditsConsumed"`
	RecentTaskIDs    []string      `json:"recentTaskIds,omitempty"` // last applied counter increments (bounded)
	Created          int64         `json:"created"`
	Modified         int64         `json:"modified,omitempty"`
}

type UserSettings struct {
	AutoProcessWhitelistedEmails bool     `json:"autoProcessWhitelistedEmails"`
	MaxEmailSizeBytes            int64    `json:"maxEmailSizeBytes,omitempty"`  // 0 means server default
	MaxAttachments               int      `json:"maxAttachments,omitempty"`     // 0 means server default
	AllowedFileTypes             []string `json:"allowedFileTypes,omitempty"`   // extensions or mime types, empty allows all
	NotificationTarget           string   `json:"notificationTarget,omitempty"` // http(s) webhook or email address
}

// WhitelistEntry an owner accepts emails from Entry (email address, domain or registrable domain)
type WhitelistEntry struct {
	BaseDocument
	OwnerWallet string `json:"ownerWallet" validate:"required"`
	Entry       string `json:"entry" validate:"required"` // lowercased address or domain
	IsActive    bool   `json:"isActive"`
	AutoProcess bool   `json:"autoProcess"`
	Created     int64  `json:"created"`
}
