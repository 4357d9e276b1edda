package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mailio/go-mailio-datawallet/services/servicestest"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass() *types.VerdictStatus {
	return &types.VerdictStatus{Status: types.VerdictStatusPass}
}

func TestReceiveEmail(t *testing.T) {
	ts := newTestServer(t)
	msg := servicestest.Email("<hook@example.com>", 1)
	msg.From = "Alice <Alice@Example.com>"

	w := ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: msg, SpfVerdict: pass(), DmarcVerdict: pass()})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted types.OutputInboundAccepted
	decode(t, w, &accepted)
	assert.Equal(t, util.TaskID("<hook@example.com>"), accepted.TaskID)
	assert.Equal(t, types.StatusReceived, accepted.Status)
	assert.False(t, accepted.Duplicate)
	assert.Equal(t, []string{accepted.TaskID}, ts.pipeline.Scheduler.Processed)

	task, err := ts.pipeline.Processing.GetTask(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.AuthenticationResult{Spf: true, Dkim: false, Dmarc: true}, task.Authentication)
	stored, err := ts.pipeline.Processing.GetEmail(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.From)

	// redelivery by the transport
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: servicestest.Email("<hook@example.com>", 1)})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &accepted)
	assert.True(t, accepted.Duplicate)
	assert.Len(t, ts.pipeline.Scheduler.Processed, 1)
}

func TestReceiveEmailRejected(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/webhook/email", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noID := servicestest.Email("", 0)
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: noID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var apiErr ApiError
	decode(t, w, &apiErr)
	assert.Contains(t, apiErr.Message, "MessageID is required")

	crowded := servicestest.Email("<crowded@example.com>", 0)
	for i := 0; i < MaxRecipients; i++ {
		crowded.Cc = append(crowded.Cc, fmt.Sprintf("r%d@example.org", i))
	}
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: crowded})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	heavy := servicestest.Email("<heavy@example.com>", 0)
	for i := 0; i <= MaxAttachmentCount; i++ {
		heavy.Attachments = append(heavy.Attachments, &types.EmailAttachment{Index: i, Filename: fmt.Sprintf("f%d.txt", i), Size: 1})
	}
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: heavy})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	withNull := servicestest.Email("<null-attachment@example.com>", 1)
	withNull.Attachments = append(withNull.Attachments, nil)
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: withNull})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	large := servicestest.Email("<large@example.com>", 0)
	large.TotalSize = MaxInboundBytes + 1
	w = ts.do(t, http.MethodPost, "/webhook/email", &types.InputInboundEmail{Email: large})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Empty(t, ts.pipeline.Scheduler.Processed)
}

const rawMime = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.org>\r\n" +
	"Subject: quarterly report\r\n" +
	"Message-ID: <mime-1@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Bob, numbers are in.\r\n"

func TestReceiveMime(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/mime", strings.NewReader(rawMime))
	req.Header.Set(HeaderSpfVerdict, "pass")
	req.Header.Set(HeaderDkimVerdict, "PASS")
	req.Header.Set(HeaderDmarcVerdict, "FAIL")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted types.OutputInboundAccepted
	decode(t, w, &accepted)
	task, err := ts.pipeline.Processing.GetTask(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "mime-1@example.com", task.MessageID)
	assert.Equal(t, types.AuthenticationResult{Spf: true, Dkim: true, Dmarc: false}, task.Authentication)

	msg, err := ts.pipeline.Processing.GetEmail(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.org"}, msg.To)
	assert.Equal(t, "quarterly report", msg.Subject)
}

func TestReceiveMimeInvalid(t *testing.T) {
	ts := newTestServer(t)

	noMessageID := strings.Replace(rawMime, "Message-ID: <mime-1@example.com>\r\n", "", 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook/mime", strings.NewReader(noMessageID))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
