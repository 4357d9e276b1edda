package types

type OutputInboundAccepted struct {
	TaskID    string           `json:"taskId"`
	Status    ProcessingStatus `json:"status"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

type OutputTask struct {
	TaskID            string                `json:"taskId"`
	MessageID         string                `json:"messageId"`
	OwnerWallet       string                `json:"ownerWallet,omitempty"`
	Status            ProcessingStatus      `json:"status"`
	AutoProcessed     bool                  `json:"autoProcessed,omitempty"`
	EstimatedCredits  int                   `json:"estimatedCredits"`
	ActualCreditsUsed int                   `json:"actualCreditsUsed"`
	Result            *WalletCreationResult `json:"result,omitempty"`
	ProcessingLog     []*ProcessingLogEntry `json:"processingLog,omitempty"`
	ErrorMessage      string                `json:"errorMessage,omitempty"`
	ErrorKind         string                `json:"errorKind,omitempty"`
	Created           int64                 `json:"created"`
	Modified          int64                 `json:"modified"`
}

type OutputAuthorization struct {
	TaskID           string               `json:"taskId"`
	ExpiresAt        int64                `json:"expiresAt"`
	Expired          bool                 `json:"expired"`
	Consumed         bool                 `json:"consumed"`
	EstimatedCredits int                  `json:"estimatedCredits"`
	Summary          AuthorizationSummary `json:"summary"`
}

// NewOutputTask maps a task into the API response
func NewOutputTask(t *EmailProcessingTask) *OutputTask {
	return &OutputTask{
		TaskID:            t.TaskID,
		MessageID:         t.MessageID,
		OwnerWallet:       t.OwnerWallet,
		Status:            t.Status,
		AutoProcessed:     t.AutoProcessed,
		EstimatedCredits:  t.EstimatedCredits,
		ActualCreditsUsed: t.ActualCreditsUsed,
		Result:            t.Result,
		ProcessingLog:     t.ProcessingLog,
		ErrorMessage:      t.ErrorMessage,
		ErrorKind:         t.ErrorKind,
		Created:           t.Created,
		Modified:          t.Modified,
	}
}
