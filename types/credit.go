package types

// breakdown keys
const (
	CreditEmailBase     = "emailWallet"
	CreditAttachments   = "attachmentWallets"
	CreditAuthorization = "authorization"
)

// CreditRates are the constants an estimate was computed with
type CreditRates struct {
	EmailBase     int `json:"emailBase"`
	Attachment    int `json:"attachment"`
	Authorization int `json:"authorization"`
}

// CreditCalculation is derived, never persisted on its own
type CreditCalculation struct {
	AttachmentCount int            `json:"attachmentCount"`
	Rates           CreditRates    `json:"rates"`
	Breakdown       map[string]int `json:"breakdown"`
	Total           int            `json:"total"`
}
