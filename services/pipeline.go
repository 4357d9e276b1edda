package services

import (
	"crypto/ed25519"

	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/types"
)

// Pipeline groups the services behind the API and the queue workers
type Pipeline struct {
	Processing     *ProcessingService
	Authorizations *AuthorizationService
	Registrations  *RegistrationService
	Calculator     *CreditCalculator
}

// NewPipeline wires the email pipeline from configuration. Redis backed deduplication and
// cancellation flags are used when env carries a redis client.
func NewPipeline(dbSelector repository.DBSelector, env *types.Environment, store ContentStore, ledger LedgerWriter, signer ed25519.PrivateKey, conf *global.Config) *Pipeline {
	registrations := NewRegistrationService(dbSelector)
	authorizations := NewAuthorizationService(dbSelector)
	calculator := NewCreditCalculator(conf.Credits)

	collaborators := &PipelineCollaborators{
		Registrations:  registrations,
		Validator:      NewEmailValidator(AutoProcessPolicy{RequireDmarc: conf.AutoProcess.RequireDmarc, MinPassing: conf.AutoProcess.MinPassing}, conf.Limits),
		Calculator:     calculator,
		Authorizations: authorizations,
		Creator:        NewWalletCreator(store, ledger, signer, conf.Ledger.MinConfirmations),
		Notifier:       NewWebhookNotifier(conf.Authorization),
	}
	if env != nil && env.RedisClient != nil {
		collaborators.Deduplicator = NewRedisDeduplicator(env)
		collaborators.Cancellations = NewRedisCancellationFlags(env)
	}

	return &Pipeline{
		Processing:     NewProcessingService(dbSelector, collaborators, NewProcessingOptions(conf)),
		Authorizations: authorizations,
		Registrations:  registrations,
		Calculator:     calculator,
	}
}
