package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// NormalizeMessageID trims whitespace and the angle brackets of a Message-ID header
func NormalizeMessageID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}

// ParseMime converts a raw RFC 5322 message into an IncomingEmailMessage.
// Attachments and inline parts keep the order in which they appear in the message.
func ParseMime(raw []byte, receivedAt time.Time) (*types.IncomingEmailMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		global.Logger.Log("error", "failed to parse mime message", "error", err)
		return nil, fmt.Errorf("%w: %s", types.ErrBadRequest, err.Error())
	}

	msg := &types.IncomingEmailMessage{
		MessageID:  NormalizeMessageID(env.GetHeader("Message-Id")),
		Subject:    env.GetHeader("Subject"),
		BodyText:   env.Text,
		BodyHTML:   env.HTML,
		ReceivedAt: receivedAt.UnixMilli(),
		Headers:    map[string][]string{},
		TotalSize:  int64(len(raw)),
	}
	if msg.MessageID == "" {
		return nil, fmt.Errorf("%w: message id header missing", types.ErrValidation)
	}

	from, err := env.AddressList("From")
	if err != nil || len(from) == 0 {
		return nil, fmt.Errorf("%w: from header missing or invalid", types.ErrValidation)
	}
	msg.From = strings.ToLower(from[0].Address)
	msg.To = addresses(env, "To")
	msg.Cc = addresses(env, "Cc")
	msg.Bcc = addresses(env, "Bcc")

	if sent, dErr := mail.ParseDate(env.GetHeader("Date")); dErr == nil {
		msg.SentAt = sent.UnixMilli()
	}
	for _, key := range env.GetHeaderKeys() {
		msg.Headers[key] = env.GetHeaderValues(key)
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for i, p := range parts {
		filename := p.FileName
		if filename == "" {
			filename = fmt.Sprintf("part-%d", i)
		}
		msg.Attachments = append(msg.Attachments, &types.EmailAttachment{
			Index:       i,
			Filename:    filename,
			ContentType: p.ContentType,
			Size:        int64(len(p.Content)),
			Content:     p.Content,
			ContentHash: util.Sha256Hex(p.Content),
			ContentID:   p.ContentID,
			Disposition: p.Disposition,
			IsInline:    p.Disposition == "inline",
		})
	}

	for _, perr := range env.Errors {
		level := "warn"
		if perr.Severe {
			level = "error"
		}
		global.Logger.Log(level, "mime part problem", "messageId", msg.MessageID, "name", perr.Name, "detail", perr.Detail)
	}
	return msg, nil
}

// addresses returns lowercased addresses of an address header, nil when absent or unparsable
func addresses(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}
