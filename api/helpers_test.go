package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mailio/go-mailio-datawallet/services/servicestest"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	pipeline *servicestest.Pipeline
}

func newTestServer(t *testing.T) *testServer {
	p := servicestest.NewPipeline(t)
	router := gin.New()

	webhook := NewMailReceiveWebhook(p.Processing)
	router.POST("/webhook/email", webhook.ReceiveEmail)
	router.POST("/webhook/mime", webhook.ReceiveMime)

	authorization := NewAuthorizationApi(p.Authorizations, p.Processing)
	router.GET("/api/v1/authorization/:token", authorization.GetAuthorization)
	router.POST("/api/v1/authorization/:token/approve", authorization.Approve)
	router.POST("/api/v1/authorization/:token/reject", authorization.Reject)

	tasks := NewTaskApi(p.Processing, p.Calculator)
	router.GET("/api/v1/tasks/:id", tasks.GetTask)
	router.POST("/api/v1/tasks/:id/cancel", tasks.CancelTask)
	router.GET("/api/v1/credits", tasks.EstimateCredits)

	registrations := NewRegistrationApi(p.Registrations)
	router.PUT("/api/v1/registrations", registrations.SaveRegistration)
	router.GET("/api/v1/registrations/:address", registrations.GetRegistration)
	router.DELETE("/api/v1/registrations/:address", registrations.Deactivate)
	router.GET("/api/v1/registrations/:address/whitelist", registrations.ListWhitelist)
	router.POST("/api/v1/registrations/:address/whitelist", registrations.AddWhitelistEntry)
	router.DELETE("/api/v1/registrations/:address/whitelist/:entry", registrations.RemoveWhitelistEntry)

	router.GET("/healthcheck", NewHealthCheckAPI().HealthCheck)
	return &testServer{router: router, pipeline: p}
}

func (ts *testServer) do(t *testing.T, method string, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// pendingTask parks an email of alice@example.com waiting for consent and returns its token
func (ts *testServer) pendingTask(t *testing.T, messageID string, attachments int) (*types.EmailProcessingTask, string) {
	ts.pipeline.Register(t, servicestest.OwnerWallet, "alice@example.com", false)
	task := ts.pipeline.Ingest(t, servicestest.Email(messageID, attachments), servicestest.PassingAuth)
	pending, err := ts.pipeline.Processing.Process(context.Background(), task.TaskID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPendingAuthorization, pending.Status)
	return pending, ts.pipeline.Notifier.LastToken(t)
}

