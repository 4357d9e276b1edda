package services

import (
	"context"

	"github.com/mailio/go-mailio-datawallet/types"
)

// RegistrationLookup resolves registrations and whitelist entries during validation
type RegistrationLookup interface {
	FindByWalletAddress(ctx context.Context, walletAddress string) (*types.UserRegistration, error)
	FindByEmailAddress(ctx context.Context, emailAddress string) (*types.UserRegistration, error)
	// FindWhitelistEntry returns the active entry of ownerWallet which admits sender or types.ErrNotFound
	FindWhitelistEntry(ctx context.Context, ownerWallet string, sender string) (*types.WhitelistEntry, error)
}

// UsageCounter applies the per wallet counters once per task
type UsageCounter interface {
	IncrementUsage(ctx context.Context, walletAddress string, taskID string, emails int64, credits int64) (*types.UserRegistration, error)
}

// RegistrationStore is what the pipeline needs from registrations
type RegistrationStore interface {
	RegistrationLookup
	UsageCounter
}

// ContentStore is content-addressed storage (IPFS, S3). Put returns a storage reference.
type ContentStore interface {
	Put(ctx context.Context, name string, content []byte) (string, error)
}

// LedgerWriter records wallet records on the ledger and reports on their transactions
type LedgerWriter interface {
	RecordWallet(ctx context.Context, record *types.WalletRecord) (*types.TransactionReference, error)
	GetTransaction(ctx context.Context, txHash string) (*types.TransactionReference, error)
}

// ConsentNotifier tells the owner a consent decision is pending
type ConsentNotifier interface {
	NotifyAuthorizationPending(ctx context.Context, registration *types.UserRegistration, request *types.AuthorizationRequest) error
}

// Deduplicator returns true the first time a message id is seen
type Deduplicator interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// CancellationFlags are shared between API and workers
type CancellationFlags interface {
	RequestCancel(ctx context.Context, taskID string) error
	IsCancelRequested(ctx context.Context, taskID string) (bool, error)
	Clear(ctx context.Context, taskID string) error
}

// TaskScheduler hands tasks to the background workers
type TaskScheduler interface {
	ScheduleProcess(ctx context.Context, taskID string) error
	ScheduleResume(ctx context.Context, taskID string) error
}
