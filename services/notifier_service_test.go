package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookUrl = "https://hooks.example.org/consent"

func newMockNotifier() *WebhookNotifier {
	wn := NewWebhookNotifier(global.AuthorizationConfig{ConsentBaseUrl: "https://wallet.example.org/consent/"})
	httpmock.ActivateNonDefault(wn.GetClient().GetClient())
	return wn
}

func consentRequest() *types.AuthorizationRequest {
	return &types.AuthorizationRequest{
		TaskID:           "task-1",
		OwnerWallet:      ownerWallet,
		Token:            "tok/en",
		ExpiresAt:        1700000000000,
		EstimatedCredits: 8,
		Summary:          types.AuthorizationSummary{Subject: "quarterly report", AttachmentCount: 2},
	}
}

func TestNotifyWebhook(t *testing.T) {
	wn := newMockNotifier()
	defer httpmock.DeactivateAndReset()

	var received types.ConsentNotification
	httpmock.RegisterResponder("POST", hookUrl, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		return httpmock.NewStringResponse(204, ""), nil
	})

	reg := &types.UserRegistration{WalletAddress: ownerWallet, Settings: &types.UserSettings{NotificationTarget: hookUrl}}
	require.NoError(t, wn.NotifyAuthorizationPending(context.Background(), reg, consentRequest()))
	assert.Equal(t, "https://wallet.example.org/consent/tok%2Fen", received.ConsentUrl)
	assert.Equal(t, 8, received.EstimatedCredits)
	assert.Equal(t, "quarterly report", received.Summary.Subject)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestNotifyWebhookRejected(t *testing.T) {
	wn := newMockNotifier()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", hookUrl, httpmock.NewStringResponder(410, "gone"))
	reg := &types.UserRegistration{WalletAddress: ownerWallet, Settings: &types.UserSettings{NotificationTarget: hookUrl}}
	assert.Error(t, wn.NotifyAuthorizationPending(context.Background(), reg, consentRequest()))
}

func TestNotifyWithoutWebhook(t *testing.T) {
	wn := newMockNotifier()
	defer httpmock.DeactivateAndReset()

	reg := &types.UserRegistration{WalletAddress: ownerWallet, Settings: &types.UserSettings{NotificationTarget: "owner@example.org"}}
	require.NoError(t, wn.NotifyAuthorizationPending(context.Background(), reg, consentRequest()))
	require.NoError(t, wn.NotifyAuthorizationPending(context.Background(), &types.UserRegistration{WalletAddress: ownerWallet}, consentRequest()))
	assert.Zero(t, httpmock.GetTotalCallCount())
}
