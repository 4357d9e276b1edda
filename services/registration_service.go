package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

const (
	// number of task ids remembered per registration for exactly-once counter updates
	maxRecentTaskIDs = 200
	// optimistic concurrency retries of a counter update
	maxCounterRetries = 5
)

type RegistrationService struct {
	registrationRepo repository.Repository
	whitelistRepo    repository.Repository
	walletLocks      *util.KeyedMutex
	validate         *validator.Validate
}

func NewRegistrationService(dbSelector repository.DBSelector) *RegistrationService {
	regDB, err := dbSelector.ChooseDB(repository.Registration)
	if err != nil {
		panic(err)
	}
	wlDB, err := dbSelector.ChooseDB(repository.Whitelist)
	if err != nil {
		panic(err)
	}
	return &RegistrationService{
		registrationRepo: regDB,
		whitelistRepo:    wlDB,
		walletLocks:      util.NewKeyedMutex(),
		validate:         validator.New(),
	}
}

func registrationID(walletAddress string) string {
	return strings.ToLower(strings.TrimSpace(walletAddress))
}

func whitelistID(ownerWallet, entry string) string {
	return util.Sha256Hex([]byte(registrationID(ownerWallet) + "|" + strings.ToLower(strings.TrimSpace(entry))))
}

// SaveRegistration creates or updates the registration of a wallet. Counters are never overwritten.
// One email address can belong to a single active registration.
func (rs *RegistrationService) SaveRegistration(ctx context.Context, input *types.InputRegistration) (*types.UserRegistration, error) {
	if err := rs.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrBadRequest, util.ValidationErrorToMessage(err))
	}
	if !util.IsValidWalletAddress(input.WalletAddress) {
		return nil, fmt.Errorf("%w: invalid wallet address", types.ErrBadRequest)
	}
	wallet := registrationID(input.WalletAddress)
	address := util.NormalizeAddress(input.EmailAddress)

	unlock := rs.walletLocks.Lock(wallet)
	defer unlock()

	owner, err := rs.FindByEmailAddress(ctx, address)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if owner != nil && owner.IsActive && owner.WalletAddress != wallet {
		return nil, fmt.Errorf("%w: email address already registered", types.ErrConflict)
	}

	now := time.Now().UTC().UnixMilli()
	reg, err := rs.FindByWalletAddress(ctx, wallet)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		reg = &types.UserRegistration{
			WalletAddress: wallet,
			Created:       now,
		}
	}
	reg.EmailAddress = address
	reg.IsVerified = input.IsVerified
	reg.IsActive = true
	reg.Settings = input.Settings
	reg.WhitelistDomains = normalizeEntries(input.WhitelistDomains)
	reg.Modified = now

	rev, sErr := rs.registrationRepo.Save(ctx, wallet, reg)
	if sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to save registration", "wallet", wallet, "error", sErr)
		return nil, sErr
	}
	reg.ID = wallet
	reg.Rev = rev
	return reg, nil
}

// Deactivate keeps the registration (and its counters) but stops eligibility
func (rs *RegistrationService) Deactivate(ctx context.Context, walletAddress string) (*types.UserRegistration, error) {
	wallet := registrationID(walletAddress)
	unlock := rs.walletLocks.Lock(wallet)
	defer unlock()

	reg, err := rs.FindByWalletAddress(ctx, wallet)
	if err != nil {
		return nil, err
	}
	reg.IsActive = false
	reg.Modified = time.Now().UTC().UnixMilli()
	rev, err := rs.registrationRepo.Save(ctx, wallet, reg)
	if err != nil {
		return nil, err
	}
	reg.Rev = rev
	return reg, nil
}

func (rs *RegistrationService) FindByWalletAddress(ctx context.Context, walletAddress string) (*types.UserRegistration, error) {
	response, err := rs.registrationRepo.GetByID(ctx, registrationID(walletAddress))
	if err != nil {
		return nil, err
	}
	var reg types.UserRegistration
	if mErr := repository.MapToObject(response, &reg); mErr != nil {
		return nil, mErr
	}
	return &reg, nil
}

// FindByEmailAddress prefers an active registration when an address was registered more than once
func (rs *RegistrationService) FindByEmailAddress(ctx context.Context, emailAddress string) (*types.UserRegistration, error) {
	address := util.NormalizeAddress(emailAddress)
	if address == "" {
		return nil, types.ErrNotFound
	}
	docs, err := rs.registrationRepo.Find(ctx, map[string]interface{}{"emailAddress": address}, 0)
	if err != nil {
		return nil, err
	}
	var found *types.UserRegistration
	for _, doc := range docs {
		var reg types.UserRegistration
		if mErr := repository.MapToObject(doc, &reg); mErr != nil {
			return nil, mErr
		}
		if reg.IsActive {
			return &reg, nil
		}
		if found == nil {
			found = &reg
		}
	}
	if found == nil {
		return nil, types.ErrNotFound
	}
	return found, nil
}

// FindWhitelistEntry matches the sender address, its domain and registrable domain (in that order)
// against explicit whitelist entries first and the registration whitelist domains second.
func (rs *RegistrationService) FindWhitelistEntry(ctx context.Context, ownerWallet string, sender string) (*types.WhitelistEntry, error) {
	candidates := util.SenderCandidates(sender)
	for _, candidate := range candidates {
		response, err := rs.whitelistRepo.GetByID(ctx, whitelistID(ownerWallet, candidate))
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var entry types.WhitelistEntry
		if mErr := repository.MapToObject(response, &entry); mErr != nil {
			return nil, mErr
		}
		if entry.IsActive {
			return &entry, nil
		}
	}

	reg, err := rs.FindByWalletAddress(ctx, ownerWallet)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		for _, domain := range reg.WhitelistDomains {
			if domain == candidate {
				return &types.WhitelistEntry{
					OwnerWallet: reg.WalletAddress,
					Entry:       domain,
					IsActive:    true,
					Created:     reg.Created,
				}, nil
			}
		}
	}
	return nil, types.ErrNotFound
}

// SaveWhitelistEntry adds or reactivates an entry of an existing registration
func (rs *RegistrationService) SaveWhitelistEntry(ctx context.Context, ownerWallet string, input *types.InputWhitelistEntry) (*types.WhitelistEntry, error) {
	if err := rs.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrBadRequest, util.ValidationErrorToMessage(err))
	}
	if _, err := rs.FindByWalletAddress(ctx, ownerWallet); err != nil {
		return nil, err
	}
	entryValue := strings.ToLower(strings.TrimSpace(input.Entry))
	id := whitelistID(ownerWallet, entryValue)

	entry := &types.WhitelistEntry{
		OwnerWallet: registrationID(ownerWallet),
		Entry:       entryValue,
		Created:     time.Now().UTC().UnixMilli(),
	}
	if response, err := rs.whitelistRepo.GetByID(ctx, id); err == nil {
		if mErr := repository.MapToObject(response, entry); mErr != nil {
			return nil, mErr
		}
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	entry.IsActive = true
	entry.AutoProcess = input.AutoProcess

	rev, err := rs.whitelistRepo.Save(ctx, id, entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id
	entry.Rev = rev
	return entry, nil
}

// RemoveWhitelistEntry deactivates an entry
func (rs *RegistrationService) RemoveWhitelistEntry(ctx context.Context, ownerWallet string, entryValue string) error {
	id := whitelistID(ownerWallet, entryValue)
	response, err := rs.whitelistRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var entry types.WhitelistEntry
	if mErr := repository.MapToObject(response, &entry); mErr != nil {
		return mErr
	}
	entry.IsActive = false
	_, err = rs.whitelistRepo.Save(ctx, id, &entry)
	return err
}

// ListWhitelist returns the active entries of a wallet
func (rs *RegistrationService) ListWhitelist(ctx context.Context, ownerWallet string) ([]*types.WhitelistEntry, error) {
	docs, err := rs.whitelistRepo.Find(ctx, map[string]interface{}{"ownerWallet": registrationID(ownerWallet), "isActive": true}, 0)
	if err != nil {
		return nil, err
	}
	entries := []*types.WhitelistEntry{}
	for _, doc := range docs {
		var entry types.WhitelistEntry
		if mErr := repository.MapToObject(doc, &entry); mErr != nil {
			return nil, mErr
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// IncrementUsage adds emails and credits to the counters of a wallet once per task.
// Updates of the same wallet are serialized in process and revision checked across processes.
func (rs *RegistrationService) IncrementUsage(ctx context.Context, walletAddress string, taskID string, emails int64, credits int64) (*types.UserRegistration, error) {
	wallet := registrationID(walletAddress)
	unlock := rs.walletLocks.Lock(wallet)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxCounterRetries; attempt++ {
		reg, err := rs.FindByWalletAddress(ctx, wallet)
		if err != nil {
			return nil, err
		}
		for _, applied := range reg.RecentTaskIDs {
			if applied == taskID {
				return reg, nil
			}
		}
		reg.EmailsProcessed += emails
		reg.CreditsConsumed += credits
		reg.RecentTaskIDs = append(reg.RecentTaskIDs, taskID)
		if len(reg.RecentTaskIDs) > maxRecentTaskIDs {
			reg.RecentTaskIDs = reg.RecentTaskIDs[len(reg.RecentTaskIDs)-maxRecentTaskIDs:]
		}
		reg.Modified = time.Now().UTC().UnixMilli()

		rev, sErr := rs.registrationRepo.Save(ctx, wallet, reg)
		if sErr == nil {
			reg.Rev = rev
			return reg, nil
		}
		if !errors.Is(sErr, types.ErrConflict) {
			return nil, sErr
		}
		// another process updated the registration in between
		lastErr = sErr
	}
	level.Error(global.Logger).Log("msg", "failed to increment usage counters", "wallet", wallet, "taskId", taskID, "error", lastErr)
	return nil, lastErr
}

func normalizeEntries(entries []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
