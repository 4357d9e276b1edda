package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mailio/go-mailio-datawallet/email"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// DefaultAuthorizationTTL applies when no ttl is configured
const DefaultAuthorizationTTL = 24 * time.Hour

// AuthorizationService issues and consumes single-use consent tokens.
// Only the sha256 of a token is stored and used as the document id.
type AuthorizationService struct {
	authRepo repository.Repository
	locks    *util.KeyedMutex
	now      func() time.Time
}

func NewAuthorizationService(dbSelector repository.DBSelector) *AuthorizationService {
	db, err := dbSelector.ChooseDB(repository.AuthorizationRequests)
	if err != nil {
		panic(err)
	}
	return &AuthorizationService{
		authRepo: db,
		locks:    util.NewKeyedMutex(),
		now:      time.Now,
	}
}

// Create stores a new authorization request for the task. The returned request carries the plain token,
// which is never persisted and can't be recovered later.
func (as *AuthorizationService) Create(ctx context.Context, task *types.EmailProcessingTask, msg *types.IncomingEmailMessage, estimate *types.CreditCalculation, ttl time.Duration) (*types.AuthorizationRequest, error) {
	if ttl <= 0 {
		ttl = DefaultAuthorizationTTL
	}
	token, err := util.GenerateToken()
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to generate consent token", "error", err)
		return nil, fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
	}
	id := util.HashToken(token)
	now := as.now().UTC()

	summary := types.AuthorizationSummary{
		Subject:          msg.Subject,
		Sender:           msg.From,
		Preview:          email.Preview(msg.BodyText, msg.BodyHTML, email.DefaultPreviewLength),
		TotalSize:        msg.TotalSize,
		AttachmentCount:  len(msg.Attachments),
		SecurityWarnings: task.SecurityWarnings,
	}
	if estimate != nil {
		summary.CreditBreakdown = estimate.Breakdown
	}
	for _, a := range msg.Attachments {
		summary.Attachments = append(summary.Attachments, &types.AttachmentSummary{
			Index:       a.Index,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			ContentHash: a.ContentHash,
			ScanResult:  task.ScanResults[a.Index],
		})
	}

	request := &types.AuthorizationRequest{
		TaskID:      task.TaskID,
		OwnerWallet: task.OwnerWallet,
		ExpiresAt:   now.Add(ttl).UnixMilli(),
		Summary:     summary,
		Created:     now.UnixMilli(),
	}
	if estimate != nil {
		request.EstimatedCredits = estimate.Total
	}
	rev, err := as.authRepo.Save(ctx, id, request)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to save authorization request", "taskId", task.TaskID, "error", err)
		return nil, err
	}
	request.ID = id
	request.Rev = rev
	request.Token = token
	return request, nil
}

// GetByToken returns the request of a token (expired or consumed requests included)
func (as *AuthorizationService) GetByToken(ctx context.Context, token string) (*types.AuthorizationRequest, error) {
	return as.GetByID(ctx, util.HashToken(token))
}

// GetByID loads a request by its id (the token hash)
func (as *AuthorizationService) GetByID(ctx context.Context, id string) (*types.AuthorizationRequest, error) {
	response, err := as.authRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrAuthorizationNotFound
		}
		return nil, err
	}
	var request types.AuthorizationRequest
	if mErr := repository.MapToObject(response, &request); mErr != nil {
		return nil, mErr
	}
	return &request, nil
}

// IsExpired reports whether the request can no longer be consumed
func (as *AuthorizationService) IsExpired(request *types.AuthorizationRequest) bool {
	return request.IsExpired(as.now())
}

// Consume marks the request of a token as used. It succeeds at most once per token.
// Expiry is checked first, so an expired request always fails with ErrAuthorizationExpired.
// The request is returned together with ErrAuthorizationExpired and ErrAuthorizationConsumed.
func (as *AuthorizationService) Consume(ctx context.Context, token string) (*types.AuthorizationRequest, error) {
	return as.decide(ctx, token, false)
}

// Reject marks the request as used without authorizing the task
func (as *AuthorizationService) Reject(ctx context.Context, token string) (*types.AuthorizationRequest, error) {
	return as.decide(ctx, token, true)
}

func (as *AuthorizationService) decide(ctx context.Context, token string, reject bool) (*types.AuthorizationRequest, error) {
	id := util.HashToken(token)
	unlock := as.locks.Lock(id)
	defer unlock()

	request, err := as.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := as.now()
	if request.IsExpired(now) {
		return request, types.ErrAuthorizationExpired
	}
	if request.Consumed || request.Rejected {
		return request, types.ErrAuthorizationConsumed
	}

	if reject {
		request.Rejected = true
	} else {
		request.Consumed = true
	}
	request.ConsumedAt = now.UTC().UnixMilli()
	rev, sErr := as.authRepo.Save(ctx, id, request)
	if sErr != nil {
		if errors.Is(sErr, types.ErrConflict) {
			// another process decided first
			return request, types.ErrAuthorizationConsumed
		}
		return nil, sErr
	}
	request.Rev = rev
	return request, nil
}
