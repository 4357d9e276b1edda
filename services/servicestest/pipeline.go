// Package servicestest wires a complete in-memory email pipeline for tests of the packages built on services.
package servicestest

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/stretchr/testify/require"
)

const (
	OwnerWallet = "0x1111111111111111111111111111111111111111"
	OtherWallet = "0x2222222222222222222222222222222222222222"
)

var PassingAuth = types.AuthenticationResult{Spf: true, Dkim: true, Dmarc: true}

// Store keeps content in memory
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
	Block   chan struct{} // when set, puts wait until closed or ctx is done
}

func (s *Store) Put(ctx context.Context, name string, content []byte) (string, error) {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	ref := "ipfs://" + util.Sha256Hex(content)[:24]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = content
	return ref, nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Ledger confirms every record
type Ledger struct {
	mu      sync.Mutex
	records int
}

func (l *Ledger) RecordWallet(ctx context.Context, record *types.WalletRecord) (*types.TransactionReference, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records++
	return &types.TransactionReference{TxHash: "0x" + util.Sha256Hex([]byte(record.WalletID))[:40], BlockHeight: int64(100 + l.records), Status: types.TxStatusPending}, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, txHash string) (*types.TransactionReference, error) {
	return &types.TransactionReference{TxHash: txHash, BlockHeight: 101, Confirmations: 12, Status: types.TxStatusConfirmed}, nil
}

func (l *Ledger) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records
}

// Notifier remembers consent requests, including their tokens
type Notifier struct {
	mu       sync.Mutex
	requests []*types.AuthorizationRequest
}

func (n *Notifier) NotifyAuthorizationPending(ctx context.Context, registration *types.UserRegistration, request *types.AuthorizationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, request)
	return nil
}

func (n *Notifier) LastToken(t *testing.T) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.requests, "no consent request was sent")
	return n.requests[len(n.requests)-1].Token
}

// Scheduler records scheduled runs without executing them
type Scheduler struct {
	mu        sync.Mutex
	Processed []string
	Resumed   []string
}

func (s *Scheduler) ScheduleProcess(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed = append(s.Processed, taskID)
	return nil
}

func (s *Scheduler) ScheduleResume(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resumed = append(s.Resumed, taskID)
	return nil
}

type Pipeline struct {
	Selector       *repository.CouchDBSelector
	Processing     *services.ProcessingService
	Registrations  *services.RegistrationService
	Authorizations *services.AuthorizationService
	Calculator     *services.CreditCalculator
	Store          *Store
	Ledger         *Ledger
	Notifier       *Notifier
	Scheduler      *Scheduler
}

// NewPipeline returns a pipeline backed by memory repositories and fake collaborators
func NewPipeline(t *testing.T) *Pipeline {
	selector := repository.NewCouchDBSelector()
	for _, name := range repository.AllDatabases {
		selector.AddDB(repository.NewMemoryRepository(name))
	}
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	p := &Pipeline{
		Selector:       selector,
		Registrations:  services.NewRegistrationService(selector),
		Authorizations: services.NewAuthorizationService(selector),
		Calculator:     services.NewCreditCalculator(global.CreditsConfig{EmailBase: 3, Attachment: 2, Authorization: 1}),
		Store:          &Store{objects: map[string][]byte{}},
		Ledger:         &Ledger{},
		Notifier:       &Notifier{},
		Scheduler:      &Scheduler{},
	}
	p.Processing = services.NewProcessingService(selector, &services.PipelineCollaborators{
		Registrations:  p.Registrations,
		Validator:      services.NewEmailValidator(services.AutoProcessPolicy{RequireDmarc: true, MinPassing: 2}, global.LimitsConfig{MaxSizeBytes: 30 << 20, MaxAttachments: 100}),
		Calculator:     p.Calculator,
		Authorizations: p.Authorizations,
		Creator:        services.NewWalletCreator(p.Store, p.Ledger, priv, 1),
		Notifier:       p.Notifier,
		Scheduler:      p.Scheduler,
	}, services.ProcessingOptions{
		AuthorizationTTL: time.Hour,
		Retry:            util.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	return p
}

// Register creates a verified registration
func (p *Pipeline) Register(t *testing.T, wallet string, emailAddress string, autoProcess bool) *types.UserRegistration {
	reg, err := p.Registrations.SaveRegistration(context.Background(), &types.InputRegistration{
		WalletAddress: wallet,
		EmailAddress:  emailAddress,
		IsVerified:    true,
		Settings:      &types.UserSettings{AutoProcessWhitelistedEmails: autoProcess},
	})
	require.NoError(t, err)
	return reg
}

// Email from alice@example.com with n pdf attachments
func Email(messageID string, attachments int) *types.IncomingEmailMessage {
	msg := &types.IncomingEmailMessage{
		MessageID: messageID,
		From:      "alice@example.com",
		To:        []string{"bob@example.org"},
		Subject:   "quarterly report",
		BodyText:  "Hi Bob, the report is attached.",
		SentAt:    1700000000000,
	}
	for i := 0; i < attachments; i++ {
		content := []byte("%PDF-1.4\n% report " + string(rune('a'+i)) + "\n")
		msg.Attachments = append(msg.Attachments, &types.EmailAttachment{
			Index:       i,
			Filename:    "report-" + string(rune('a'+i)) + ".pdf",
			ContentType: "application/pdf",
			Content:     content,
		})
	}
	return msg
}

// Ingest stores the email and returns its task without processing it
func (p *Pipeline) Ingest(t *testing.T, msg *types.IncomingEmailMessage, auth types.AuthenticationResult) *types.EmailProcessingTask {
	task, duplicate, err := p.Processing.IngestEmail(context.Background(), msg, auth)
	require.NoError(t, err)
	require.False(t, duplicate)
	return task
}
