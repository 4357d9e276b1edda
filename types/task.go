package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

var (
	QueueTypeEmailProcess = "email:process"
	QueueTypeEmailResume  = "email:resume"
)

// ProcessingStatus is the state of an EmailProcessingTask
type ProcessingStatus string

const (
	StatusReceived              ProcessingStatus = "Received"
	StatusValidating            ProcessingStatus = "Validating"
	StatusCreating              ProcessingStatus = "Creating"
	StatusPendingAuthorization  ProcessingStatus = "PendingAuthorization"
	StatusAuthorized            ProcessingStatus = "Authorized"
	StatusProcessing            ProcessingStatus = "Processing"
	StatusStoringToIPFS         ProcessingStatus = "StoringToIPFS"
	StatusVerifyingOnBlockchain ProcessingStatus = "VerifyingOnBlockchain"
	StatusCompleted             ProcessingStatus = "Completed"
	StatusFailed                ProcessingStatus = "Failed"
	StatusCancelled             ProcessingStatus = "Cancelled"
)

// log entry statuses which are not states
const (
	LogStatusRetrying = "retrying"
	LogStatusInfo     = "info"
)

// forward-only transitions, Failed and Cancelled are allowed from every non terminal state
var allowedTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusReceived:              {StatusValidating},
	StatusValidating:            {StatusCreating},
	StatusCreating:              {StatusPendingAuthorization, StatusAuthorized},
	StatusPendingAuthorization:  {StatusAuthorized},
	StatusAuthorized:            {StatusProcessing},
	StatusProcessing:            {StatusStoringToIPFS},
	StatusStoringToIPFS:         {StatusVerifyingOnBlockchain},
	StatusVerifyingOnBlockchain: {StatusCompleted},
}

// IsTerminal returns true for Completed, Failed and Cancelled
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition checks the state machine
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// EmailProcessingTask is the aggregate root: one per inbound email
type EmailProcessingTask struct {
	BaseDocument
	TaskID                       string                `json:"taskId"`
	MessageID                    string                `json:"messageId"`
	OwnerWallet                  string                `json:"ownerWallet,omitempty"`
	Status                       ProcessingStatus      `json:"status"`
	Created                      int64                 `json:"created"`
	Modified                     int64                 `json:"modified"`
	AuthorizedAt                 int64                 `json:"authorizedAt,omitempty"`
	CompletedAt                  int64                 `json:"completedAt,omitempty"`
	AutoProcessEligible          bool                  `json:"autoProcessEligible,omitempty"` // validation allowed skipping consent
	AutoProcessed                bool                  `json:"autoProcessed,omitempty"`
	Authentication               AuthenticationResult  `json:"authentication"`
	TemporaryEmailWalletID       string                `json:"temporaryEmailWalletId,omitempty"`
	TemporaryAttachmentWalletIDs []string              `json:"temporaryAttachmentWalletIds,omitempty"`
	AuthorizationRequestID       string                `json:"authorizationRequestId,omitempty"` // sha256 of the consent token
	EstimatedCredits             int                   `json:"estimatedCredits"`
	CreditRates                  *CreditRates          `json:"creditRates,omitempty"` // rates at estimation time
	CreditBreakdown              map[string]int        `json:"creditBreakdown,omitempty"`
	ActualCreditsUsed            int                   `json:"actualCreditsUsed"`
	ValidationErrors             []string              `json:"validationErrors,omitempty"`
	SecurityWarnings             []string              `json:"securityWarnings,omitempty"`
	ScanResults                  map[int]string        `json:"scanResults,omitempty"`
	Wallets                      []*WalletDraft        `json:"wallets,omitempty"` // email wallet first, then attachments by index
	Result                       *WalletCreationResult `json:"result,omitempty"`
	OrphanedStorageRefs          []string              `json:"orphanedStorageRefs,omitempty"`
	CountersApplied              bool                  `json:"countersApplied,omitempty"`
	ProcessingLog                []*ProcessingLogEntry `json:"processingLog"`
	ErrorMessage                 string                `json:"errorMessage,omitempty"`
	ErrorKind                    string                `json:"errorKind,omitempty"`
}

// ProcessingLogEntry is append-only
type ProcessingLogEntry struct {
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"` // since epoch in miliseconds
	Step       string `json:"step"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// LastLogEntry returns the most recent log entry or nil
func (t *EmailProcessingTask) LastLogEntry() *ProcessingLogEntry {
	if len(t.ProcessingLog) == 0 {
		return nil
	}
	return t.ProcessingLog[len(t.ProcessingLog)-1]
}

// StorageRefs returns all storage references created so far
func (t *EmailProcessingTask) StorageRefs() []string {
	refs := []string{}
	for _, w := range t.Wallets {
		if w.StorageRef != "" {
			refs = append(refs, w.StorageRef)
		}
	}
	return refs
}

// PipelineTask is the queue payload for processing or resuming a task
type PipelineTask struct {
	TaskID string `json:"taskId" validate:"required"`
}

func NewEmailProcessTask(message *PipelineTask) (*asynq.Task, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeEmailProcess, payload), nil
}

func NewEmailResumeTask(message *PipelineTask) (*asynq.Task, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeEmailResume, payload), nil
}
