package types

const (
	WalletKindEmail      = "email"
	WalletKindAttachment = "attachment"
)

// ledger transaction states
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusReverted  = "reverted"
)

// WalletCreationResult is the outcome of creating the wallets of one email
type WalletCreationResult struct {
	Success             bool              `json:"success"`
	EmailWalletID       string            `json:"emailWalletId,omitempty"`
	AttachmentWalletIDs []string          `json:"attachmentWalletIds,omitempty"` // attachment index order
	CreditsUsed         int               `json:"creditsUsed"`
	ElapsedMs           int64             `json:"elapsedMs"`
	Verification        *VerificationInfo `json:"verification,omitempty"`
	Error               string            `json:"error,omitempty"`
	Cancelled           bool              `json:"cancelled,omitempty"`
}

type VerificationInfo struct {
	ContentHash     string `json:"contentHash"`
	TransactionHash string `json:"transactionHash"`
	BlockHeight     int64  `json:"blockHeight"`
	Confirmations   int64  `json:"confirmations"`
	VerifiedAt      int64  `json:"verifiedAt"`
}

// WalletRecord is the immutable record submitted to the ledger
type WalletRecord struct {
	WalletID       string `json:"walletId" cbor:"1,keyasint"`
	Kind           string `json:"kind" cbor:"2,keyasint"`
	Owner          string `json:"owner" cbor:"3,keyasint"`
	ContentHash    string `json:"contentHash" cbor:"4,keyasint"`
	StorageRef     string `json:"storageRef" cbor:"5,keyasint"`
	ParentWalletID string `json:"parentWalletId,omitempty" cbor:"6,keyasint,omitempty"` // email wallet id for attachments
	Index          int    `json:"index" cbor:"7,keyasint"`
	Created        int64  `json:"created" cbor:"8,keyasint"`
	Signature      string `json:"signature,omitempty" cbor:"-"` // base64 ed25519 signature over the cbor encoded record
}

// TransactionReference identifies a ledger write
type TransactionReference struct {
	TxHash        string `json:"txHash"`
	BlockHeight   int64  `json:"blockHeight"`
	Confirmations int64  `json:"confirmations"`
	Status        string `json:"status"`
}

// WalletDraft tracks the progress of a single wallet within a task so a resumed run skips finished work
type WalletDraft struct {
	WalletID       string                `json:"walletId"`
	Kind           string                `json:"kind"`
	Index          int                   `json:"index"` // -1 for the email wallet
	ContentHash    string                `json:"contentHash,omitempty"`
	Size           int64                 `json:"size"`
	StorageRef     string                `json:"storageRef,omitempty"`
	ParentWalletID string                `json:"parentWalletId,omitempty"`
	Transaction    *TransactionReference `json:"transaction,omitempty"`
	Verified       bool                  `json:"verified,omitempty"`
}
