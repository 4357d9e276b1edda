package types

// attachment scan results
const (
	ScanResultClean        = "clean"
	ScanResultTypeMismatch = "type_mismatch" // declared content type differs from sniffed type
	ScanResultBlocked      = "blocked"       // denied extension or not in the allowed types
)

// how the email became eligible
const (
	EligibleBySenderRegistration = "sender_registration"
	EligibleByWhitelist          = "whitelist"
)

// EmailValidationResult separates hard errors from informational warnings
type EmailValidationResult struct {
	IsEligible       bool              `json:"isEligible"`
	AutoProcess      bool              `json:"autoProcess"`
	EligibleBy       string            `json:"eligibleBy,omitempty"`
	OwnerWallet      string            `json:"ownerWallet,omitempty"`
	Registration     *UserRegistration `json:"-"`
	WhitelistEntry   *WhitelistEntry   `json:"-"`
	Errors           []string          `json:"errors,omitempty"`
	SecurityWarnings []string          `json:"securityWarnings,omitempty"`
	ScanResults      map[int]string    `json:"scanResults,omitempty"` // attachment index -> scan result
}

// IsValid is true when the email can continue past validation
func (r *EmailValidationResult) IsValid() bool {
	return r.IsEligible && len(r.Errors) == 0
}
