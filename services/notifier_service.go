package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

// WebhookNotifier posts consent requests to the notification webhook of the owner.
// Owners without a webhook only get a log line, the consent link is never logged.
type WebhookNotifier struct {
	client         *resty.Client
	consentBaseUrl string
}

func NewWebhookNotifier(conf global.AuthorizationConfig) *WebhookNotifier {
	return &WebhookNotifier{
		client:         resty.New().SetTimeout(10 * time.Second),
		consentBaseUrl: strings.TrimSuffix(conf.ConsentBaseUrl, "/"),
	}
}

// GetClient exposes the http client (mocking)
func (wn *WebhookNotifier) GetClient() *resty.Client {
	return wn.client
}

// ConsentUrl is the link the owner follows to approve or reject
func (wn *WebhookNotifier) ConsentUrl(token string) string {
	return fmt.Sprintf("%s/%s", wn.consentBaseUrl, url.PathEscape(token))
}

func (wn *WebhookNotifier) NotifyAuthorizationPending(ctx context.Context, registration *types.UserRegistration, request *types.AuthorizationRequest) error {
	target := ""
	if registration.Settings != nil {
		target = strings.TrimSpace(registration.Settings.NotificationTarget)
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		level.Info(global.Logger).Log("msg", "consent pending, no notification webhook", "taskId", request.TaskID, "owner", registration.WalletAddress, "target", target)
		return nil
	}

	notification := &types.ConsentNotification{
		TaskID:           request.TaskID,
		OwnerWallet:      request.OwnerWallet,
		ConsentUrl:       wn.ConsentUrl(request.Token),
		ExpiresAt:        request.ExpiresAt,
		EstimatedCredits: request.EstimatedCredits,
		Summary:          request.Summary,
	}
	response, err := wn.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(notification).
		Post(target)
	if err != nil {
		return err
	}
	if response.IsError() {
		return fmt.Errorf("notification webhook responded %d", response.StatusCode())
	}
	return nil
}
