package types

import "strings"

// IncomingEmailMessage is an immutable snapshot of one received email
type IncomingEmailMessage struct {
	BaseDocument
	MessageID   string              `json:"messageId" validate:"required"`  // unique per mail transport
	From        string              `json:"from" validate:"required,email"` // sender address
	To          []string            `json:"to" validate:"dive,email"`       // recipients
	Cc          []string            `json:"cc,omitempty" validate:"dive,email"`
	Bcc         []string            `json:"bcc,omitempty" validate:"dive,email"`
	Subject     string              `json:"subject"`
	BodyText    string              `json:"bodyText,omitempty"`
	BodyHTML    string              `json:"bodyHtml,omitempty"`
	SentAt      int64               `json:"sentAt,omitempty"`  // since epoch in miliseconds
	ReceivedAt  int64               `json:"receivedAt"`        // since epoch in miliseconds
	Headers     map[string][]string `json:"headers,omitempty"` // one header can be specified multiple times with different values
	Attachments []*EmailAttachment  `json:"attachments,omitempty" validate:"dive,required"`
	TotalSize   int64               `json:"totalSize"` // total byte size of the message
}

// EmailAttachment is owned by exactly one IncomingEmailMessage
type EmailAttachment struct {
	Index       int    `json:"index"` // stable position within parent email
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"contentType"`           // declared content type
	Size        int64  `json:"size"`                  // byte size
	Content     []byte `json:"content,omitempty"`     // raw bytes
	ContentHash string `json:"contentHash,omitempty"` // sha256 hex of the content bytes
	ContentID   string `json:"contentId,omitempty"`
	Disposition string `json:"disposition,omitempty"` // attachment or inline
	IsInline    bool   `json:"isInline,omitempty"`
}

// Recipients returns to, cc and bcc addresses in that order (lowercased, without duplicates)
func (m *IncomingEmailMessage) Recipients() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, r := range list {
			r = strings.ToLower(strings.TrimSpace(r))
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// VerdictStatus values (as reported by the mail transport)
const (
	VerdictStatusPass         = "PASS"
	VerdictStatusFail         = "FAIL"
	VerdictStatusGray         = "GRAY"
	VerdictStatusNotAvailable = "NOT_AVAILABLE"
)

type VerdictStatus struct {
	Status string `json:"status" validate:"omitempty,oneof=PASS FAIL GRAY NOT_AVAILABLE"`
}

// AuthenticationResult are precomputed SPF/DKIM/DMARC checks of the sender
type AuthenticationResult struct {
	Spf   bool `json:"spf"`
	Dkim  bool `json:"dkim"`
	Dmarc bool `json:"dmarc"`
}

// Passing returns the number of passing checks
func (a AuthenticationResult) Passing() int {
	n := 0
	for _, ok := range []bool{a.Spf, a.Dkim, a.Dmarc} {
		if ok {
			n++
		}
	}
	return n
}

// NewAuthenticationResult converts transport verdicts. Anything but PASS is treated as not passing.
func NewAuthenticationResult(spf, dkim, dmarc *VerdictStatus) AuthenticationResult {
	pass := func(v *VerdictStatus) bool {
		return v != nil && strings.EqualFold(v.Status, VerdictStatusPass)
	}
	return AuthenticationResult{Spf: pass(spf), Dkim: pass(dkim), Dmarc: pass(dmarc)}
}
