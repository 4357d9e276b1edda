package types

import "time"

// AuthorizationRequest is a time-boxed, single-use consent artifact for one task.
// The document ID is the sha256 hex of the token. The token itself is never stored.
type AuthorizationRequest struct {
	BaseDocument
	TaskID           string               `json:"taskId" validate:"required"`
	OwnerWallet      string               `json:"ownerWallet" validate:"required"`
	Token            string               `json:"-"`         // only known to the creator of the request
	ExpiresAt        int64                `json:"expiresAt"` // since epoch in miliseconds
	Consumed         bool                 `json:"consumed"`
	ConsumedAt       int64                `json:"consumedAt,omitempty"`
	Rejected         bool                 `json:"rejected,omitempty"`
	Summary          AuthorizationSummary `json:"summary"`
	EstimatedCredits int                  `json:"estimatedCredits"`
	Created          int64                `json:"created"`
}

// AuthorizationSummary is what the user sees before approving
type AuthorizationSummary struct {
	Subject          string               `json:"subject"`
	Sender           string               `json:"sender"`
	Preview          string               `json:"preview,omitempty"` // plain text, sanitized
	TotalSize        int64                `json:"totalSize"`
	AttachmentCount  int                  `json:"attachmentCount"`
	Attachments      []*AttachmentSummary `json:"attachments,omitempty"`
	CreditBreakdown  map[string]int       `json:"creditBreakdown,omitempty"`
	SecurityWarnings []string             `json:"securityWarnings,omitempty"`
}

type AttachmentSummary struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	ContentHash string `json:"contentHash"`
	ScanResult  string `json:"scanResult"`
}

// IsExpired is a pure time check (now > expiresAt), independent of consumption
func (a *AuthorizationRequest) IsExpired(now time.Time) bool {
	return now.UnixMilli() > a.ExpiresAt
}

// ExpiresAtTime returns the expiry as time
func (a *AuthorizationRequest) ExpiresAtTime() time.Time {
	return time.UnixMilli(a.ExpiresAt)
}

// ConsentNotification is posted to the owner's notification webhook
type ConsentNotification struct {
	TaskID           string               `json:"taskId"`
	OwnerWallet      string               `json:"ownerWallet"`
	ConsentUrl       string               `json:"consentUrl"`
	ExpiresAt        int64                `json:"expiresAt"`
	EstimatedCredits int                  `json:"estimatedCredits"`
	Summary          AuthorizationSummary `json:"summary"`
}
