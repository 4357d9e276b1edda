package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/stretchr/testify/require"
)

const (
	ownerWallet = "0x1111111111111111111111111111111111111111"
	otherWallet = "0x2222222222222222222222222222222222222222"
)

var passingAuth = types.AuthenticationResult{Spf: true, Dkim: true, Dmarc: true}

func newTestSelector() *repository.CouchDBSelector {
	selector := repository.NewCouchDBSelector()
	for _, name := range repository.AllDatabases {
		selector.AddDB(repository.NewMemoryRepository(name))
	}
	return selector
}

// memoryStore is a content store which never deletes anything
type memoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     int
	deletes  int
	failures int             // fail the next n puts
	failName map[string]bool // always fail these names
	block    chan struct{}   // when set, puts wait until closed or ctx is done
	started  chan string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, failName: map[string]bool{}}
}

func (m *memoryStore) Put(ctx context.Context, name string, content []byte) (string, error) {
	m.mu.Lock()
	m.puts++
	if m.failName[name] || m.failures > 0 {
		if m.failures > 0 {
			m.failures--
		}
		m.mu.Unlock()
		return "", errors.New("ipfs node unavailable")
	}
	block := m.block
	started := m.started
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- name:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	ref := "ipfs://" + util.Sha256Hex(content)[:24]
	m.mu.Lock()
	m.objects[ref] = content
	m.mu.Unlock()
	return ref, nil
}

// Delete is never called by the pipeline
func (m *memoryStore) Delete(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.objects, ref)
}

func (m *memoryStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *memoryStore) objectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// fakeLedger confirms everything unless told otherwise
type fakeLedger struct {
	mu            sync.Mutex
	records       []*types.WalletRecord
	calls         int
	recordErr     error
	txStatus      string
	confirmations int64
}

func (f *fakeLedger) RecordWallet(ctx context.Context, record *types.WalletRecord) (*types.TransactionReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	copied := *record
	f.records = append(f.records, &copied)
	return &types.TransactionReference{
		TxHash:      "0x" + util.Sha256Hex([]byte(record.WalletID))[:40],
		BlockHeight: int64(100 + len(f.records)),
		Status:      types.TxStatusPending,
	}, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, txHash string) (*types.TransactionReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	status := f.txStatus
	if status == "" {
		status = types.TxStatusConfirmed
	}
	confirmations := f.confirmations
	if confirmations == 0 {
		confirmations = 12
	}
	return &types.TransactionReference{TxHash: txHash, BlockHeight: 101, Confirmations: confirmations, Status: status}, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLedger) recorded() []*types.WalletRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.WalletRecord, len(f.records))
	copy(out, f.records)
	return out
}

// captureNotifier keeps every consent request (and its token)
type captureNotifier struct {
	mu       sync.Mutex
	requests []*types.AuthorizationRequest
}

func (c *captureNotifier) NotifyAuthorizationPending(ctx context.Context, registration *types.UserRegistration, request *types.AuthorizationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, request)
	return nil
}

func (c *captureNotifier) last(t *testing.T) *types.AuthorizationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.requests, "no consent request was sent")
	return c.requests[len(c.requests)-1]
}

type recordingScheduler struct {
	mu        sync.Mutex
	processed []string
	resumed   []string
}

func (r *recordingScheduler) ScheduleProcess(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, taskID)
	return nil
}

func (r *recordingScheduler) ScheduleResume(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, taskID)
	return nil
}

type pipeline struct {
	selector  *repository.CouchDBSelector
	service   *ProcessingService
	regs      *RegistrationService
	auth      *AuthorizationService
	creator   *WalletCreator
	store     *memoryStore
	ledger    *fakeLedger
	notifier  *captureNotifier
	scheduler *recordingScheduler
	publicKey ed25519.PublicKey
}

func newPipeline(t *testing.T) *pipeline {
	selector := newTestSelector()
	regs := NewRegistrationService(selector)
	auth := NewAuthorizationService(selector)
	store := newMemoryStore()
	ledger := &fakeLedger{}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	creator := NewWalletCreator(store, ledger, priv, 1)
	notifier := &captureNotifier{}
	scheduler := &recordingScheduler{}

	service := NewProcessingService(selector, &PipelineCollaborators{
		Registrations:  regs,
		Validator:      NewEmailValidator(AutoProcessPolicy{RequireDmarc: true, MinPassing: 2}, global.LimitsConfig{MaxSizeBytes: 30 << 20, MaxAttachments: 100}),
		Calculator:     NewCreditCalculator(global.CreditsConfig{EmailBase: 3, Attachment: 2, Authorization: 1}),
		Authorizations: auth,
		Creator:        creator,
		Notifier:       notifier,
		Scheduler:      scheduler,
	}, ProcessingOptions{
		AuthorizationTTL: time.Hour,
		Retry:            util.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	return &pipeline{
		selector:  selector,
		service:   service,
		regs:      regs,
		auth:      auth,
		creator:   creator,
		store:     store,
		ledger:    ledger,
		notifier:  notifier,
		scheduler: scheduler,
		publicKey: pub,
	}
}

func (p *pipeline) register(t *testing.T, wallet string, emailAddress string, autoProcess bool) *types.UserRegistration {
	reg, err := p.regs.SaveRegistration(context.Background(), &types.InputRegistration{
		WalletAddress: wallet,
		EmailAddress:  emailAddress,
		IsVerified:    true,
		Settings:      &types.UserSettings{AutoProcessWhitelistedEmails: autoProcess},
	})
	require.NoError(t, err)
	return reg
}

// ingestAndProcess runs the pipeline the way the queue worker does
func (p *pipeline) ingestAndProcess(t *testing.T, msg *types.IncomingEmailMessage, auth types.AuthenticationResult) (*types.EmailProcessingTask, error) {
	task, duplicate, err := p.service.IngestEmail(context.Background(), msg, auth)
	require.NoError(t, err)
	require.False(t, duplicate)
	return p.service.Process(context.Background(), task.TaskID)
}

func testEmail(messageID string, attachments int) *types.IncomingEmailMessage {
	msg := &types.IncomingEmailMessage{
		MessageID: messageID,
		From:      "Alice <alice@example.com>",
		To:        []string{"bob@example.org"},
		Subject:   "quarterly report",
		BodyText:  "Hi Bob, the report is attached.",
		SentAt:    1700000000000,
	}
	for i := 0; i < attachments; i++ {
		msg.Attachments = append(msg.Attachments, &types.EmailAttachment{
			Index:       i,
			Filename:    fmt.Sprintf("report-%d.pdf", i),
			ContentType: "application/pdf",
			Content:     []byte(fmt.Sprintf("%%PDF-1.4\n%% report %d\n", i)),
		})
	}
	return msg
}

func logSteps(task *types.EmailProcessingTask) []string {
	steps := []string{}
	for _, entry := range task.ProcessingLog {
		steps = append(steps, entry.Step)
	}
	return steps
}

func logStatuses(task *types.EmailProcessingTask, status string) []*types.ProcessingLogEntry {
	out := []*types.ProcessingLogEntry{}
	for _, entry := range task.ProcessingLog {
		if entry.Status == status {
			out = append(out, entry)
		}
	}
	return out
}

// blockingUsage holds IncrementUsage until release is closed
type blockingUsage struct {
	*RegistrationService
	entered chan string
	release chan struct{}
}

func (b *blockingUsage) IncrementUsage(ctx context.Context, walletAddress string, taskID string, emails int64, credits int64) (*types.UserRegistration, error) {
	b.entered <- taskID
	<-b.release
	return b.RegistrationService.IncrementUsage(ctx, walletAddress, taskID, emails, credits)
}
