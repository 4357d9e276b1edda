package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/metrics"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// time a save may take after the run context is gone
const persistTimeout = 10 * time.Second

// ProcessingOptions are the tunables of the pipeline
type ProcessingOptions struct {
	AuthorizationTTL time.Duration
	Retry            util.RetryPolicy
}

// NewProcessingOptions maps the configuration to pipeline options
func NewProcessingOptions(conf *global.Config) ProcessingOptions {
	return ProcessingOptions{
		AuthorizationTTL: time.Duration(conf.Authorization.TtlMinutes) * time.Minute,
		Retry: util.RetryPolicy{
			Attempts:  conf.Retry.Attempts,
			BaseDelay: time.Duration(conf.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:  time.Duration(conf.Retry.MaxDelayMs) * time.Millisecond,
		},
	}
}

// PipelineCollaborators are the components the processing service drives.
// Notifier, Deduplicator, Cancellations and Scheduler are optional.
type PipelineCollaborators struct {
	Registrations  RegistrationStore
	Validator      *EmailValidator
	Calculator     *CreditCalculator
	Authorizations *AuthorizationService
	Creator        *WalletCreator
	Notifier       ConsentNotifier
	Deduplicator   Deduplicator
	Cancellations  CancellationFlags
	Scheduler      TaskScheduler
}

// ProcessingService owns EmailProcessingTask state. All transitions of a task go through it
// and runs of the same task are serialized.
type ProcessingService struct {
	taskRepo       repository.Repository
	emailRepo      repository.Repository
	registrations  RegistrationStore
	validator      *EmailValidator
	calculator     *CreditCalculator
	authorizations *AuthorizationService
	creator        *WalletCreator
	notifier       ConsentNotifier
	dedup          Deduplicator
	cancels        CancellationFlags
	scheduler      TaskScheduler
	options        ProcessingOptions
	taskLocks      *util.KeyedMutex
	inflightMu     sync.Mutex
	inflight       map[string]context.CancelFunc
	cancelRequests map[string]bool
	completing     map[string]bool
	now            func() time.Time
}

func NewProcessingService(dbSelector repository.DBSelector, collaborators *PipelineCollaborators, options ProcessingOptions) *ProcessingService {
	taskDB, err := dbSelector.ChooseDB(repository.ProcessingTask)
	if err != nil {
		panic(err)
	}
	emailDB, err := dbSelector.ChooseDB(repository.InboundEmail)
	if err != nil {
		panic(err)
	}
	if collaborators.Registrations == nil || collaborators.Validator == nil || collaborators.Calculator == nil ||
		collaborators.Authorizations == nil || collaborators.Creator == nil {
		panic("processing service requires registrations, validator, calculator, authorizations and creator")
	}
	if options.AuthorizationTTL <= 0 {
		options.AuthorizationTTL = DefaultAuthorizationTTL
	}
	return &ProcessingService{
		taskRepo:       taskDB,
		emailRepo:      emailDB,
		registrations:  collaborators.Registrations,
		validator:      collaborators.Validator,
		calculator:     collaborators.Calculator,
		authorizations: collaborators.Authorizations,
		creator:        collaborators.Creator,
		notifier:       collaborators.Notifier,
		dedup:          collaborators.Deduplicator,
		cancels:        collaborators.Cancellations,
		scheduler:      collaborators.Scheduler,
		options:        options,
		taskLocks:      util.NewKeyedMutex(),
		inflight:       map[string]context.CancelFunc{},
		cancelRequests: map[string]bool{},
		completing:     map[string]bool{},
		now:            time.Now,
	}
}

// SetScheduler wires the background queue after construction
func (ps *ProcessingService) SetScheduler(scheduler TaskScheduler) {
	ps.scheduler = scheduler
}

// GetTask loads a task by id
func (ps *ProcessingService) GetTask(ctx context.Context, taskID string) (*types.EmailProcessingTask, error) {
	response, err := ps.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var task types.EmailProcessingTask
	if mErr := repository.MapToObject(response, &task); mErr != nil {
		return nil, mErr
	}
	return &task, nil
}

// GetEmail loads the email snapshot of a task
func (ps *ProcessingService) GetEmail(ctx context.Context, taskID string) (*types.IncomingEmailMessage, error) {
	response, err := ps.emailRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var msg types.IncomingEmailMessage
	if mErr := repository.MapToObject(response, &msg); mErr != nil {
		return nil, mErr
	}
	return &msg, nil
}

// IngestEmail creates the task of an inbound email (status Received) and schedules its processing.
// A message id that was seen before returns the existing task and duplicate=true.
func (ps *ProcessingService) IngestEmail(ctx context.Context, msg *types.IncomingEmailMessage, auth types.AuthenticationResult) (*types.EmailProcessingTask, bool, error) {
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if msg.MessageID == "" {
		return nil, false, fmt.Errorf("%w: message id is required", types.ErrValidation)
	}
	taskID := util.TaskID(msg.MessageID)

	if ps.dedup != nil {
		isNew, err := ps.dedup.IsNew(ctx, msg.MessageID)
		if err != nil {
			// the task store stays authoritative
			level.Warn(global.Logger).Log("msg", "deduplication check failed", "messageId", msg.MessageID, "error", err)
		} else if !isNew {
			if existing, gErr := ps.GetTask(ctx, taskID); gErr == nil {
				metrics.EmailsDuplicateMetricsCount.Inc()
				return existing, true, nil
			}
		}
	}
	existing, err := ps.GetTask(ctx, taskID)
	if err == nil {
		metrics.EmailsDuplicateMetricsCount.Inc()
		return existing, true, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}

	now := ps.now().UTC().UnixMilli()
	completeEmail(msg, now)
	if _, sErr := ps.emailRepo.Save(ctx, taskID, msg); sErr != nil && !errors.Is(sErr, types.ErrConflict) {
		level.Error(global.Logger).Log("msg", "failed to store inbound email", "taskId", taskID, "error", sErr)
		return nil, false, sErr
	}

	task := &types.EmailProcessingTask{
		TaskID:         taskID,
		MessageID:      msg.MessageID,
		Status:         types.StatusReceived,
		Created:        now,
		Modified:       now,
		Authentication: auth,
		ProcessingLog:  []*types.ProcessingLogEntry{},
	}
	ps.appendLog(task, "received", string(types.StatusReceived), fmt.Sprintf("email from %s with %d attachments", msg.From, len(msg.Attachments)), nil, 0)
	rev, err := ps.taskRepo.Save(ctx, taskID, task)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			if existing, gErr := ps.GetTask(ctx, taskID); gErr == nil {
				metrics.EmailsDuplicateMetricsCount.Inc()
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	task.ID = taskID
	task.Rev = rev
	metrics.EmailsReceivedMetricsCount.Inc()
	metrics.TaskTransitionsMetricsTotal.WithLabelValues(string(types.StatusReceived)).Inc()

	if ps.scheduler != nil {
		if sErr := ps.scheduler.ScheduleProcess(ctx, taskID); sErr != nil {
			// picked up again by RequeueStalled
			level.Error(global.Logger).Log("msg", "failed to schedule task", "taskId", taskID, "error", sErr)
		}
	}
	return task, false, nil
}

// completeEmail fills derived fields the transport may have left empty.
// Nil attachments are dropped and the size is never smaller than the content received.
func completeEmail(msg *types.IncomingEmailMessage, now int64) {
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = now
	}
	msg.From = util.NormalizeAddress(msg.From)
	attachments := make([]*types.EmailAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		if a != nil {
			attachments = append(attachments, a)
		}
	}
	msg.Attachments = attachments

	size := int64(len(msg.BodyText) + len(msg.BodyHTML))
	seen := map[int]bool{}
	unique := true
	for _, a := range msg.Attachments {
		if seen[a.Index] {
			unique = false
		}
		seen[a.Index] = true
	}
	for i, a := range msg.Attachments {
		// positions are used when the transport sent no usable indexes
		if !unique {
			a.Index = i
		}
		if len(a.Content) > 0 {
			a.ContentHash = util.Sha256Hex(a.Content)
			a.Size = int64(len(a.Content))
		}
		size += a.Size
	}
	if size > msg.TotalSize {
		msg.TotalSize = size
	}
}

// Process drives a task forward until it completes, fails, gets cancelled or waits for consent.
// Calling it on a terminal task returns the stored task without touching any collaborator.
func (ps *ProcessingService) Process(ctx context.Context, taskID string) (*types.EmailProcessingTask, error) {
	unlock := ps.taskLocks.Lock(taskID)
	defer unlock()

	task, err := ps.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	ps.inflightMu.Lock()
	ps.inflight[taskID] = cancel
	ps.inflightMu.Unlock()
	defer func() {
		ps.inflightMu.Lock()
		delete(ps.inflight, taskID)
		delete(ps.cancelRequests, taskID)
		delete(ps.completing, taskID)
		ps.inflightMu.Unlock()
		cancel()
	}()

	return ps.run(runCtx, task)
}

// Resume continues an authorized (or interrupted) task. Finished wallets are not created again.
func (ps *ProcessingService) Resume(ctx context.Context, taskID string) (*types.EmailProcessingTask, error) {
	return ps.Process(ctx, taskID)
}

func (ps *ProcessingService) run(ctx context.Context, task *types.EmailProcessingTask) (*types.EmailProcessingTask, error) {
	var msg *types.IncomingEmailMessage
	loadEmail := func() (*types.IncomingEmailMessage, error) {
		if msg != nil {
			return msg, nil
		}
		m, err := ps.GetEmail(ctx, task.TaskID)
		if err != nil {
			return nil, err
		}
		msg = m
		return msg, nil
	}

	for !task.Status.IsTerminal() {
		if ps.cancelRequested(ctx, task.TaskID) {
			return task, ps.cancelTask(ctx, task, "cancelled", "cancelled by request", types.ErrTaskCancelled)
		}

		var err error
		switch task.Status {
		case types.StatusReceived:
			err = ps.transition(ctx, task, types.StatusValidating, "validation_started", "validating sender, limits and attachments")
		case types.StatusValidating:
			err = ps.validate(ctx, task, loadEmail)
		case types.StatusCreating:
			var parked bool
			parked, err = ps.estimate(ctx, task, loadEmail)
			if err == nil && parked {
				return task, nil
			}
		case types.StatusPendingAuthorization:
			var parked bool
			parked, err = ps.checkAuthorization(ctx, task)
			if err == nil && parked {
				return task, nil
			}
		case types.StatusAuthorized:
			err = ps.transition(ctx, task, types.StatusProcessing, "processing_started", "creating wallets")
		case types.StatusProcessing:
			err = ps.prepare(ctx, task, loadEmail)
		case types.StatusStoringToIPFS:
			err = ps.store(ctx, task, loadEmail)
		case types.StatusVerifyingOnBlockchain:
			err = ps.record(ctx, task)
		default:
			err = fmt.Errorf("%w: unknown status %s", types.ErrInvalidTransition, task.Status)
		}

		if err != nil {
			if ps.interrupted(ctx, err) && ps.cancelRequested(ctx, task.TaskID) {
				return task, ps.cancelTask(ctx, task, "cancelled", "cancelled by request", types.ErrTaskCancelled)
			}
			level.Error(global.Logger).Log("msg", "task run interrupted", "taskId", task.TaskID, "status", task.Status, "error", err)
			return task, err
		}
	}
	return task, nil
}

func (ps *ProcessingService) validate(ctx context.Context, task *types.EmailProcessingTask, loadEmail func() (*types.IncomingEmailMessage, error)) error {
	msg, err := loadEmail()
	if err != nil {
		return err
	}
	result, err := ps.validator.Validate(ctx, msg, ps.registrations, task.Authentication)
	if err != nil {
		return err
	}
	task.ValidationErrors = result.Errors
	task.SecurityWarnings = result.SecurityWarnings
	task.ScanResults = result.ScanResults
	task.OwnerWallet = result.OwnerWallet
	if !result.IsValid() {
		vErr := fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(result.Errors, "; "))
		return ps.fail(ctx, task, "validation_failed", vErr)
	}
	task.AutoProcessEligible = result.AutoProcess
	return ps.transition(ctx, task, types.StatusCreating, "validated", fmt.Sprintf("eligible by %s, owner %s", result.EligibleBy, result.OwnerWallet))
}

// estimate computes credits and temporary wallet ids, then either skips consent or asks for it.
// parked is true when the task waits for the owner.
func (ps *ProcessingService) estimate(ctx context.Context, task *types.EmailProcessingTask, loadEmail func() (*types.IncomingEmailMessage, error)) (bool, error) {
	msg, err := loadEmail()
	if err != nil {
		return false, err
	}
	estimate := ps.calculator.Calculate(len(msg.Attachments))
	rates := estimate.Rates
	task.EstimatedCredits = estimate.Total
	task.CreditRates = &rates
	task.CreditBreakdown = estimate.Breakdown

	emailWalletID, attachmentWalletIDs, err := DeriveWalletIDs(task.OwnerWallet, msg)
	if err != nil {
		return false, ps.fail(ctx, task, "estimation_failed", fmt.Errorf("%w: %s", types.ErrInternal, err.Error()))
	}
	task.TemporaryEmailWalletID = emailWalletID
	task.TemporaryAttachmentWalletIDs = attachmentWalletIDs

	if task.AutoProcessEligible {
		task.AutoProcessed = true
		metrics.AutoAuthorizedMetricsCount.Inc()
		task.AuthorizedAt = ps.now().UTC().UnixMilli()
		level.Info(global.Logger).Log("msg", "consent skipped, auto processing", "taskId", task.TaskID, "owner", task.OwnerWallet, "credits", task.EstimatedCredits)
		return false, ps.transition(ctx, task, types.StatusAuthorized, "auto_authorized", fmt.Sprintf("consent skipped for trusted sender, %d credits estimated", task.EstimatedCredits))
	}

	request, err := ps.authorizations.Create(ctx, task, msg, estimate, ps.options.AuthorizationTTL)
	if err != nil {
		return false, err
	}
	task.AuthorizationRequestID = request.ID
	expires := request.ExpiresAtTime().UTC().Format(time.RFC3339)
	if err := ps.transition(ctx, task, types.StatusPendingAuthorization, "authorization_requested", fmt.Sprintf("waiting for owner consent until %s, %d credits estimated", expires, task.EstimatedCredits)); err != nil {
		return false, err
	}
	ps.notify(ctx, task, request)
	return true, nil
}

func (ps *ProcessingService) notify(ctx context.Context, task *types.EmailProcessingTask, request *types.AuthorizationRequest) {
	if ps.notifier == nil {
		return
	}
	reg, err := ps.registrations.FindByWalletAddress(ctx, task.OwnerWallet)
	if err != nil {
		level.Warn(global.Logger).Log("msg", "consent notification skipped, registration not found", "taskId", task.TaskID, "error", err)
		return
	}
	if nErr := ps.notifier.NotifyAuthorizationPending(ctx, reg, request); nErr != nil {
		level.Warn(global.Logger).Log("msg", "consent notification failed", "taskId", task.TaskID, "error", nErr)
	}
}

// checkAuthorization expires stale consent requests. A request decided while the task
// update failed is applied here.
func (ps *ProcessingService) checkAuthorization(ctx context.Context, task *types.EmailProcessingTask) (bool, error) {
	request, err := ps.authorizations.GetByID(ctx, task.AuthorizationRequestID)
	if err != nil {
		if errors.Is(err, types.ErrAuthorizationNotFound) {
			return false, ps.fail(ctx, task, "authorization_invalid", err)
		}
		return false, err
	}
	switch {
	case ps.authorizations.IsExpired(request) && !request.Consumed:
		return false, ps.cancelTask(ctx, task, "authorization_expired", "consent request expired", types.ErrAuthorizationExpired)
	case request.Rejected:
		return false, ps.cancelTask(ctx, task, "authorization_rejected", "rejected by owner", types.ErrTaskCancelled)
	case request.Consumed:
		task.AuthorizedAt = request.ConsumedAt
		return false, ps.transition(ctx, task, types.StatusAuthorized, "authorized", "approved by owner")
	}
	return true, nil
}

func (ps *ProcessingService) prepare(ctx context.Context, task *types.EmailProcessingTask, loadEmail func() (*types.IncomingEmailMessage, error)) error {
	msg, err := loadEmail()
	if err != nil {
		return err
	}
	if err := ps.creator.PrepareWallets(task, msg); err != nil {
		return ps.fail(ctx, task, "processing_failed", err)
	}
	return ps.transition(ctx, task, types.StatusStoringToIPFS, "content_prepared", fmt.Sprintf("%d wallets prepared", len(task.Wallets)))
}

func (ps *ProcessingService) store(ctx context.Context, task *types.EmailProcessingTask, loadEmail func() (*types.IncomingEmailMessage, error)) error {
	msg, err := loadEmail()
	if err != nil {
		return err
	}
	err = ps.withRetry(ctx, task, "storing", func(ctx context.Context) error {
		return ps.creator.StoreContent(ctx, task, msg)
	})
	if err != nil {
		if ps.interrupted(ctx, err) {
			return types.ErrTaskCancelled
		}
		return ps.fail(ctx, task, "storing_failed", err)
	}
	return ps.transition(ctx, task, types.StatusVerifyingOnBlockchain, "content_stored", fmt.Sprintf("%d objects stored", len(task.StorageRefs())))
}

// record writes wallets to the ledger (email first), waits for confirmations and completes the task
func (ps *ProcessingService) record(ctx context.Context, task *types.EmailProcessingTask) error {
	afterEach := func(d *types.WalletDraft) error {
		if err := ps.saveTask(ctx, task); err != nil {
			return err
		}
		if ps.cancelRequested(ctx, task.TaskID) {
			return types.ErrTaskCancelled
		}
		return nil
	}
	err := ps.withRetry(ctx, task, "recording", func(ctx context.Context) error {
		return ps.creator.RecordOnLedger(ctx, task, afterEach)
	})
	if err != nil {
		if ps.interrupted(ctx, err) {
			return types.ErrTaskCancelled
		}
		if errors.Is(err, types.ErrConflict) {
			return err
		}
		return ps.fail(ctx, task, "recording_failed", err)
	}

	var verification *types.VerificationInfo
	err = ps.withRetry(ctx, task, "verifying", func(ctx context.Context) error {
		v, vErr := ps.creator.VerifyTransactions(ctx, task)
		verification = v
		return vErr
	})
	if err != nil {
		if ps.interrupted(ctx, err) {
			return types.ErrTaskCancelled
		}
		return ps.fail(ctx, task, "verification_failed", err)
	}
	if !ps.beginCompletion(ctx, task.TaskID) {
		return types.ErrTaskCancelled
	}
	return ps.complete(ctx, task, verification)
}

// beginCompletion is the last point a cancel can take effect. Once it returns true
// Cancel reports a conflict instead of interrupting the run.
func (ps *ProcessingService) beginCompletion(ctx context.Context, taskID string) bool {
	if ps.cancelRequested(ctx, taskID) {
		return false
	}
	ps.inflightMu.Lock()
	defer ps.inflightMu.Unlock()
	if ps.cancelRequests[taskID] {
		return false
	}
	ps.completing[taskID] = true
	return true
}

// complete charges the owner once per task and finishes the task
func (ps *ProcessingService) complete(ctx context.Context, task *types.EmailProcessingTask, verification *types.VerificationInfo) error {
	now := ps.now().UTC()
	elapsed := time.Duration(0)
	if task.AuthorizedAt > 0 {
		elapsed = now.Sub(time.UnixMilli(task.AuthorizedAt))
	}
	result := ps.creator.BuildResult(task, verification, elapsed)
	if !task.CountersApplied {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if _, err := ps.registrations.IncrementUsage(pctx, task.OwnerWallet, task.TaskID, 1, int64(result.CreditsUsed)); err != nil {
			return err
		}
		task.CountersApplied = true
		metrics.CreditsConsumedMetricsCount.Add(float64(result.CreditsUsed))
	}
	task.Result = result
	task.ActualCreditsUsed = result.CreditsUsed
	task.CompletedAt = now.UnixMilli()
	if ps.cancels != nil {
		ps.cancels.Clear(ctx, task.TaskID)
	}
	return ps.transition(ctx, task, types.StatusCompleted, "wallets_verified", fmt.Sprintf("%d wallets created for %d credits", len(task.Wallets), result.CreditsUsed))
}

// Authorize consumes a consent token and moves its task to Authorized. Processing continues in the background.
// A consumption failure fails the pending task, except expiry which cancels it.
func (ps *ProcessingService) Authorize(ctx context.Context, token string) (*types.EmailProcessingTask, error) {
	request, err := ps.authorizations.Consume(ctx, token)
	if err != nil {
		if request == nil {
			return nil, err
		}
		return ps.authorizationFailed(ctx, request.TaskID, err)
	}

	task, err := ps.authorizeTask(ctx, request)
	if err != nil {
		return task, err
	}
	if ps.scheduler != nil {
		if sErr := ps.scheduler.ScheduleResume(ctx, task.TaskID); sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to schedule resume", "taskId", task.TaskID, "error", sErr)
		}
	}
	return task, nil
}

func (ps *ProcessingService) authorizeTask(ctx context.Context, request *types.AuthorizationRequest) (*types.EmailProcessingTask, error) {
	unlock := ps.taskLocks.Lock(request.TaskID)
	defer unlock()

	task, err := ps.GetTask(ctx, request.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusPendingAuthorization {
		return task, fmt.Errorf("%w: task is %s", types.ErrInvalidTransition, task.Status)
	}
	task.AuthorizedAt = request.ConsumedAt
	if err := ps.transition(ctx, task, types.StatusAuthorized, "authorized", "approved by owner"); err != nil {
		return task, err
	}
	return task, nil
}

func (ps *ProcessingService) authorizationFailed(ctx context.Context, taskID string, cause error) (*types.EmailProcessingTask, error) {
	unlock := ps.taskLocks.Lock(taskID)
	defer unlock()

	task, err := ps.GetTask(ctx, taskID)
	if err != nil {
		return nil, cause
	}
	if task.Status != types.StatusPendingAuthorization {
		return task, cause
	}
	if errors.Is(cause, types.ErrAuthorizationExpired) {
		if cErr := ps.cancelTask(ctx, task, "authorization_expired", "consent request expired", cause); cErr != nil {
			return task, cErr
		}
		return task, cause
	}
	if fErr := ps.fail(ctx, task, "authorization_invalid", fmt.Errorf("%w (%s)", cause, types.AuthorizationFailureKind(cause))); fErr != nil {
		return task, fErr
	}
	return task, cause
}

// Reject consumes a consent token without authorizing and cancels the task
func (ps *ProcessingService) Reject(ctx context.Context, token string) (*types.EmailProcessingTask, error) {
	request, err := ps.authorizations.Reject(ctx, token)
	if err != nil {
		if request == nil {
			return nil, err
		}
		return ps.authorizationFailed(ctx, request.TaskID, err)
	}

	unlock := ps.taskLocks.Lock(request.TaskID)
	defer unlock()
	task, err := ps.GetTask(ctx, request.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusPendingAuthorization {
		return task, fmt.Errorf("%w: task is %s", types.ErrInvalidTransition, task.Status)
	}
	return task, ps.cancelTask(ctx, task, "authorization_rejected", "rejected by owner", types.ErrTaskCancelled)
}

// Cancel stops a task. A running task is interrupted at the next collaborator call or phase boundary
// and records the cancellation itself. Cancelling a terminal task has no effect.
// A task that is already being charged and completed cannot be cancelled and yields ErrInvalidTransition.
func (ps *ProcessingService) Cancel(ctx context.Context, taskID string) (*types.EmailProcessingTask, error) {
	task, err := ps.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	ps.inflightMu.Lock()
	if ps.completing[taskID] {
		ps.inflightMu.Unlock()
		return task, fmt.Errorf("%w: task %s is already completing", types.ErrInvalidTransition, taskID)
	}
	cancel, running := ps.inflight[taskID]
	if running {
		ps.cancelRequests[taskID] = true
		cancel()
	}
	ps.inflightMu.Unlock()

	if ps.cancels != nil {
		if fErr := ps.cancels.RequestCancel(ctx, taskID); fErr != nil {
			level.Error(global.Logger).Log("msg", "failed to set cancellation flag", "taskId", taskID, "error", fErr)
		}
	}
	if running {
		return task, nil
	}

	unlock := ps.taskLocks.Lock(taskID)
	defer unlock()
	task, err = ps.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}
	return task, ps.cancelTask(ctx, task, "cancelled", "cancelled by request", types.ErrTaskCancelled)
}

// ExpireAuthorizations cancels tasks whose consent request expired. Returns the number of cancelled tasks.
func (ps *ProcessingService) ExpireAuthorizations(ctx context.Context) (int, error) {
	docs, err := ps.taskRepo.Find(ctx, map[string]interface{}{"status": string(types.StatusPendingAuthorization)}, 0)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, doc := range docs {
		var pending types.EmailProcessingTask
		if mErr := repository.MapToObject(doc, &pending); mErr != nil {
			level.Error(global.Logger).Log("msg", "failed to map pending task", "error", mErr)
			continue
		}
		request, rErr := ps.authorizations.GetByID(ctx, pending.AuthorizationRequestID)
		if rErr != nil || !ps.authorizations.IsExpired(request) || request.Consumed {
			continue
		}
		task, pErr := ps.Process(ctx, pending.TaskID)
		if pErr != nil {
			level.Error(global.Logger).Log("msg", "failed to expire authorization", "taskId", pending.TaskID, "error", pErr)
			continue
		}
		if task.Status == types.StatusCancelled {
			expired++
		}
	}
	return expired, nil
}

// RequeueStalled schedules non-terminal tasks (except those waiting for consent) not modified for olderThan
func (ps *ProcessingService) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	if ps.scheduler == nil {
		return 0, nil
	}
	statuses := []interface{}{
		string(types.StatusReceived), string(types.StatusValidating), string(types.StatusCreating),
		string(types.StatusAuthorized), string(types.StatusProcessing), string(types.StatusStoringToIPFS),
		string(types.StatusVerifyingOnBlockchain),
	}
	docs, err := ps.taskRepo.Find(ctx, map[string]interface{}{"status": map[string]interface{}{"$in": statuses}}, 0)
	if err != nil {
		return 0, err
	}
	threshold := ps.now().Add(-olderThan).UTC().UnixMilli()
	requeued := 0
	for _, doc := range docs {
		var task types.EmailProcessingTask
		if mErr := repository.MapToObject(doc, &task); mErr != nil {
			continue
		}
		if task.Modified > threshold {
			continue
		}
		if sErr := ps.scheduler.ScheduleResume(ctx, task.TaskID); sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to requeue task", "taskId", task.TaskID, "error", sErr)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// withRetry retries transient failures of a phase and logs every retry on the task
func (ps *ProcessingService) withRetry(ctx context.Context, task *types.EmailProcessingTask, phase string, fn func(ctx context.Context) error) error {
	onRetry := func(attempt int, err error, delay time.Duration) {
		ps.appendLog(task, phase, types.LogStatusRetrying, fmt.Sprintf("attempt %d failed, retrying in %s", attempt, delay), err, 0)
		if sErr := ps.saveTask(ctx, task); sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to persist retry", "taskId", task.TaskID, "error", sErr)
		}
		metrics.PhaseRetriesMetricsTotal.WithLabelValues(phase).Inc()
	}
	return util.Retry(ctx, ps.options.Retry, types.IsTransient, onRetry, func(ctx context.Context) error {
		if ps.cancelRequested(ctx, task.TaskID) {
			return types.ErrTaskCancelled
		}
		return fn(ctx)
	})
}

// transition moves the task to a new status, appends exactly one log entry and persists the task
func (ps *ProcessingService) transition(ctx context.Context, task *types.EmailProcessingTask, to types.ProcessingStatus, step string, message string) error {
	return ps.transitionWithError(ctx, task, to, step, message, nil)
}

func (ps *ProcessingService) transitionWithError(ctx context.Context, task *types.EmailProcessingTask, to types.ProcessingStatus, step string, message string, cause error) error {
	from := task.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}
	duration := ps.stateDuration(task)
	task.Status = to
	ps.appendLog(task, step, string(to), message, cause, duration)
	if err := ps.saveTask(ctx, task); err != nil {
		return err
	}
	metrics.TaskTransitionsMetricsTotal.WithLabelValues(string(to)).Inc()
	metrics.PhaseLatency.WithLabelValues(string(from)).Observe(float64(duration.Milliseconds()))
	global.Logger.Log("taskId", task.TaskID, "from", from, "to", to, "step", step)
	return nil
}

// fail moves the task to Failed. Stored content without a verified ledger record is kept as orphaned.
func (ps *ProcessingService) fail(ctx context.Context, task *types.EmailProcessingTask, step string, cause error) error {
	ps.recordOrphans(task)
	task.ErrorMessage = cause.Error()
	task.ErrorKind = types.ErrorKind(cause)
	task.Result = &types.WalletCreationResult{Success: false, Error: cause.Error()}
	level.Warn(global.Logger).Log("msg", "task failed", "taskId", task.TaskID, "step", step, "kind", task.ErrorKind, "error", cause)
	return ps.transitionWithError(ctx, task, types.StatusFailed, step, "processing failed", cause)
}

// cancelTask moves the task to Cancelled. Work already done is kept and stored content is recorded as orphaned.
func (ps *ProcessingService) cancelTask(ctx context.Context, task *types.EmailProcessingTask, step string, message string, cause error) error {
	ps.recordOrphans(task)
	task.ErrorMessage = cause.Error()
	task.ErrorKind = types.ErrorKind(cause)
	task.Result = &types.WalletCreationResult{Success: false, Cancelled: true, Error: cause.Error()}
	if ps.cancels != nil {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		ps.cancels.Clear(pctx, task.TaskID)
	}
	return ps.transitionWithError(ctx, task, types.StatusCancelled, step, message, cause)
}

// recordOrphans remembers storage references of wallets which never got a verified ledger record.
// They are never deleted, reconciliation is an operator task.
func (ps *ProcessingService) recordOrphans(task *types.EmailProcessingTask) {
	orphans := []string{}
	for _, d := range task.Wallets {
		if d.StorageRef != "" && !d.Verified {
			orphans = append(orphans, d.StorageRef)
		}
	}
	if len(orphans) == 0 {
		return
	}
	task.OrphanedStorageRefs = orphans
	metrics.OrphanedStorageArtifacts.Add(float64(len(orphans)))
	ps.appendLog(task, "reconciliation", types.LogStatusInfo, fmt.Sprintf("%d stored objects without ledger record: %s", len(orphans), strings.Join(orphans, ", ")), nil, 0)
	level.Warn(global.Logger).Log("msg", "orphaned storage references", "taskId", task.TaskID, "refs", strings.Join(orphans, ","))
}

func (ps *ProcessingService) appendLog(task *types.EmailProcessingTask, step string, status string, message string, cause error, duration time.Duration) {
	entry := &types.ProcessingLogEntry{
		ID:         uuid.NewString(),
		Timestamp:  ps.now().UTC().UnixMilli(),
		Step:       step,
		Status:     status,
		Message:    message,
		DurationMs: duration.Milliseconds(),
	}
	if cause != nil {
		entry.Error = cause.Error()
		entry.ErrorKind = types.ErrorKind(cause)
	}
	task.ProcessingLog = append(task.ProcessingLog, entry)
}

// stateDuration is the time spent in the current status (since the last transition entry)
func (ps *ProcessingService) stateDuration(task *types.EmailProcessingTask) time.Duration {
	for i := len(task.ProcessingLog) - 1; i >= 0; i-- {
		entry := task.ProcessingLog[i]
		if entry.Status == string(task.Status) {
			d := ps.now().Sub(time.UnixMilli(entry.Timestamp))
			if d < 0 {
				return 0
			}
			return d
		}
	}
	return 0
}

func (ps *ProcessingService) saveTask(ctx context.Context, task *types.EmailProcessingTask) error {
	pctx, cancel := persistContext(ctx)
	defer cancel()
	task.Modified = ps.now().UTC().UnixMilli()
	rev, err := ps.taskRepo.Save(pctx, task.TaskID, task)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to save task", "taskId", task.TaskID, "status", task.Status, "error", err)
		return err
	}
	task.ID = task.TaskID
	task.Rev = rev
	return nil
}

// cancelRequested is true when this task was cancelled through Cancel or the shared flags
func (ps *ProcessingService) cancelRequested(ctx context.Context, taskID string) bool {
	ps.inflightMu.Lock()
	requested := ps.cancelRequests[taskID]
	ps.inflightMu.Unlock()
	if requested {
		return true
	}
	if ps.cancels == nil {
		return false
	}
	pctx, cancel := persistContext(ctx)
	defer cancel()
	flagged, err := ps.cancels.IsCancelRequested(pctx, taskID)
	if err != nil {
		level.Warn(global.Logger).Log("msg", "failed to read cancellation flag", "taskId", taskID, "error", err)
		return false
	}
	return flagged
}

// interrupted reports whether a phase stopped because its run was cancelled.
// run decides if that was a cancellation of the task or a worker shutdown.
func (ps *ProcessingService) interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, types.ErrTaskCancelled) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// persistContext detaches from the run context so cancellation can still be recorded
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
