package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/mailio/go-mailio-datawallet/email"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// hard limits of the mail transport, checked before a task is created
const (
	MaxRecipients      = 100
	MaxInboundBytes    = 30 * 1024 * 1024
	MaxAttachmentCount = 100
)

// verdict headers set by the mail transport on raw mime deliveries
const (
	HeaderSpfVerdict   = "X-Spf-Verdict"
	HeaderDkimVerdict  = "X-Dkim-Verdict"
	HeaderDmarcVerdict = "X-Dmarc-Verdict"
)

type MailReceiveWebhook struct {
	processingService *services.ProcessingService
	validate          *validator.Validate
}

func NewMailReceiveWebhook(processingService *services.ProcessingService) *MailReceiveWebhook {
	return &MailReceiveWebhook{processingService: processingService, validate: validator.New()}
}

// ReceiveEmail webhook for parsed emails
// @Summary Receive a new inbound email
// @Description Creates the processing task of an inbound email (parsed by the mail transport)
// @Tags Inbound Webhook
// @Accept json
// @Produce json
// @Param email body types.InputInboundEmail true "inbound email with authentication verdicts"
// @Success 202 {object} types.OutputInboundAccepted
// @Success 200 {object} types.OutputInboundAccepted "duplicate delivery"
// @Failure 400 {object} api.ApiError "bad request"
// @Failure 413 {object} api.ApiError "email too large"
// @Failure 500 {object} api.ApiError "internal error"
// @Router /webhook/email [post]
func (m *MailReceiveWebhook) ReceiveEmail(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*MaxInboundBytes)
	var input types.InputInboundEmail
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid email: %s", err.Error())
		return
	}
	if input.Email == nil {
		ApiErrorf(c, http.StatusBadRequest, "email is required")
		return
	}
	msg := input.Email
	msg.From = util.NormalizeAddress(msg.From)
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for i := range list {
			list[i] = util.NormalizeAddress(list[i])
		}
	}
	if err := m.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", validationMessage(err))
		return
	}
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = time.Now().UTC().UnixMilli()
	}
	auth := types.NewAuthenticationResult(input.SpfVerdict, input.DkimVerdict, input.DmarcVerdict)
	m.accept(c, msg, auth)
}

// ReceiveMime webhook for raw RFC 5322 messages
// @Summary Receive a new raw inbound email
// @Description Parses a raw mime message and creates its processing task. SPF, DKIM and DMARC verdicts are read from the X-Spf-Verdict, X-Dkim-Verdict and X-Dmarc-Verdict headers.
// @Tags Inbound Webhook
// @Accept plain
// @Produce json
// @Success 202 {object} types.OutputInboundAccepted
// @Success 200 {object} types.OutputInboundAccepted "duplicate delivery"
// @Failure 400 {object} api.ApiError "bad request"
// @Failure 413 {object} api.ApiError "email too large"
// @Failure 500 {object} api.ApiError "internal error"
// @Router /webhook/mime [post]
func (m *MailReceiveWebhook) ReceiveMime(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxInboundBytes+1))
	if err != nil {
		ApiErrorf(c, http.StatusBadRequest, "failed to read message: %s", err.Error())
		return
	}
	if len(raw) > MaxInboundBytes {
		ApiErrorf(c, http.StatusRequestEntityTooLarge, "email size is too large")
		return
	}
	msg, err := email.ParseMime(raw, time.Now().UTC())
	if err != nil {
		ApiErrorf(c, http.StatusBadRequest, "error parsing mime: %s", err.Error())
		return
	}
	auth := types.NewAuthenticationResult(
		headerVerdict(c, HeaderSpfVerdict),
		headerVerdict(c, HeaderDkimVerdict),
		headerVerdict(c, HeaderDmarcVerdict))
	m.accept(c, msg, auth)
}

func headerVerdict(c *gin.Context, header string) *types.VerdictStatus {
	value := strings.ToUpper(strings.TrimSpace(c.GetHeader(header)))
	if value == "" {
		return nil
	}
	return &types.VerdictStatus{Status: value}
}

// accept checks the hard limits and hands the email to the pipeline
func (m *MailReceiveWebhook) accept(c *gin.Context, msg *types.IncomingEmailMessage, auth types.AuthenticationResult) {
	if len(msg.Recipients()) > MaxRecipients {
		level.Warn(global.Logger).Log("msg", "too many recipients", "messageId", msg.MessageID, "recipients", len(msg.Recipients()))
		ApiErrorf(c, http.StatusBadRequest, "too many recipients")
		return
	}
	if len(msg.Attachments) > MaxAttachmentCount {
		ApiErrorf(c, http.StatusRequestEntityTooLarge, "too many attachments")
		return
	}
	if inboundSize(msg) > MaxInboundBytes {
		ApiErrorf(c, http.StatusRequestEntityTooLarge, "email size is too large")
		return
	}

	task, duplicate, err := m.processingService.IngestEmail(c.Request.Context(), msg, auth)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to receive email", "messageId", msg.MessageID, "error", err)
		ApiDomainError(c, err)
		return
	}
	status := http.StatusAccepted
	if duplicate {
		status = http.StatusOK
	}
	global.Logger.Log("msg", fmt.Sprintf("email received: %s", task.TaskID), "duplicate", duplicate)
	c.JSON(status, &types.OutputInboundAccepted{TaskID: task.TaskID, Status: task.Status, Duplicate: duplicate})
}

func inboundSize(msg *types.IncomingEmailMessage) int64 {
	if msg.TotalSize > 0 {
		return msg.TotalSize
	}
	size := int64(len(msg.BodyText) + len(msg.BodyHTML))
	for _, a := range msg.Attachments {
		if a == nil {
			continue
		}
		if len(a.Content) > 0 {
			size += int64(len(a.Content))
		} else {
			size += a.Size
		}
	}
	return size
}
