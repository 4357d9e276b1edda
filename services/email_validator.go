package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// AutoProcessPolicy decides if sender authentication is strong enough to skip consent
type AutoProcessPolicy struct {
	RequireDmarc bool
	MinPassing   int // minimum number of passing checks out of spf, dkim and dmarc
}

// Allows reports whether the authentication result satisfies the policy
func (p AutoProcessPolicy) Allows(auth types.AuthenticationResult) bool {
	if p.RequireDmarc && !auth.Dmarc {
		return false
	}
	return auth.Passing() >= p.MinPassing
}

type EmailValidator struct {
	policy   AutoProcessPolicy
	limits   global.LimitsConfig
	validate *validator.Validate
}

func NewEmailValidator(policy AutoProcessPolicy, limits global.LimitsConfig) *EmailValidator {
	return &EmailValidator{
		policy:   policy,
		limits:   limits,
		validate: validator.New(),
	}
}

// Validate checks eligibility, registration limits and attachment safety of an email.
// Failed SPF/DKIM/DMARC checks are warnings, everything else listed in Errors blocks processing.
// An error is returned only when the registration lookup itself failed.
func (v *EmailValidator) Validate(ctx context.Context, email *types.IncomingEmailMessage, lookup RegistrationLookup, auth types.AuthenticationResult) (*types.EmailValidationResult, error) {
	result := &types.EmailValidationResult{
		Errors:           []string{},
		SecurityWarnings: []string{},
		ScanResults:      map[int]string{},
	}

	if err := v.validate.Struct(email); err != nil {
		result.Errors = append(result.Errors, util.ValidationErrorList(err)...)
	}
	if len(email.Recipients()) == 0 {
		result.Errors = append(result.Errors, "email has no recipients")
	}

	senderDomain := util.EmailDomain(email.From)
	if !auth.Spf {
		result.SecurityWarnings = append(result.SecurityWarnings, fmt.Sprintf("SPF check did not pass for %s", senderDomain))
	}
	if !auth.Dkim {
		result.SecurityWarnings = append(result.SecurityWarnings, fmt.Sprintf("DKIM signature did not verify for %s", senderDomain))
	}
	if !auth.Dmarc {
		result.SecurityWarnings = append(result.SecurityWarnings, fmt.Sprintf("DMARC policy did not pass for %s", senderDomain))
	}

	autoFlag, err := v.resolveEligibility(ctx, email, lookup, result)
	if err != nil {
		return nil, err
	}
	if !result.IsEligible {
		result.Errors = append(result.Errors, fmt.Sprintf("sender %s is neither registered nor whitelisted by a recipient", util.NormalizeAddress(email.From)))
	}

	v.checkLimits(email, result)

	result.AutoProcess = result.IsValid() && autoFlag && v.policy.Allows(auth)
	return result, nil
}

// resolveEligibility fills eligibility fields and returns the auto-process flag of the owner.
// The sender's own active registration wins over recipient whitelists.
func (v *EmailValidator) resolveEligibility(ctx context.Context, email *types.IncomingEmailMessage, lookup RegistrationLookup, result *types.EmailValidationResult) (bool, error) {
	sender := util.NormalizeAddress(email.From)
	if sender != "" {
		reg, err := lookup.FindByEmailAddress(ctx, sender)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return false, err
		}
		if reg != nil && reg.IsActive {
			result.IsEligible = true
			result.EligibleBy = types.EligibleBySenderRegistration
			result.OwnerWallet = reg.WalletAddress
			result.Registration = reg
			auto := reg.Settings != nil && reg.Settings.AutoProcessWhitelistedEmails
			entry, wErr := lookup.FindWhitelistEntry(ctx, reg.WalletAddress, sender)
			if wErr != nil && !errors.Is(wErr, types.ErrNotFound) {
				return false, wErr
			}
			if entry != nil {
				result.WhitelistEntry = entry
				auto = auto || entry.AutoProcess
			}
			return auto, nil
		}
	}

	for _, recipient := range email.Recipients() {
		reg, err := lookup.FindByEmailAddress(ctx, recipient)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return false, err
		}
		if !reg.IsActive {
			continue
		}
		entry, wErr := lookup.FindWhitelistEntry(ctx, reg.WalletAddress, sender)
		if wErr != nil {
			if errors.Is(wErr, types.ErrNotFound) {
				continue
			}
			return false, wErr
		}
		result.IsEligible = true
		result.EligibleBy = types.EligibleByWhitelist
		result.OwnerWallet = reg.WalletAddress
		result.Registration = reg
		result.WhitelistEntry = entry
		auto := entry.AutoProcess || (reg.Settings != nil && reg.Settings.AutoProcessWhitelistedEmails)
		return auto, nil
	}
	return false, nil
}

// checkLimits applies registration settings (or server limits) and scans attachments
func (v *EmailValidator) checkLimits(email *types.IncomingEmailMessage, result *types.EmailValidationResult) {
	maxSize := v.limits.MaxSizeBytes
	maxAttachments := v.limits.MaxAttachments
	var allowed []string
	if result.Registration != nil && result.Registration.Settings != nil {
		s := result.Registration.Settings
		if s.MaxEmailSizeBytes > 0 {
			maxSize = s.MaxEmailSizeBytes
		}
		if s.MaxAttachments > 0 {
			maxAttachments = s.MaxAttachments
		}
		allowed = s.AllowedFileTypes
	}

	if maxSize > 0 && email.TotalSize > maxSize {
		result.Errors = append(result.Errors, fmt.Sprintf("email size %d exceeds the limit of %d bytes", email.TotalSize, maxSize))
	}
	if maxAttachments > 0 && len(email.Attachments) > maxAttachments {
		result.Errors = append(result.Errors, fmt.Sprintf("email has %d attachments, the limit is %d", len(email.Attachments), maxAttachments))
	}

	for _, a := range email.Attachments {
		if a == nil {
			continue
		}
		switch {
		case util.IsDeniedFileExtension(a.Filename):
			result.ScanResults[a.Index] = types.ScanResultBlocked
			result.Errors = append(result.Errors, fmt.Sprintf("attachment %s has a denied file type", a.Filename))
		case !util.IsAllowedFileType(a.Filename, a.ContentType, allowed):
			result.ScanResults[a.Index] = types.ScanResultBlocked
			result.Errors = append(result.Errors, fmt.Sprintf("attachment %s is not an allowed file type", a.Filename))
		case !contentMatchesDeclaredType(a):
			result.ScanResults[a.Index] = types.ScanResultTypeMismatch
			result.SecurityWarnings = append(result.SecurityWarnings, fmt.Sprintf("attachment %s declares %s but looks like %s", a.Filename, a.ContentType, mimetype.Detect(a.Content).String()))
		default:
			result.ScanResults[a.Index] = types.ScanResultClean
		}
	}
}

// contentMatchesDeclaredType sniffs the content and compares it (including parent types) with the declared type.
// Empty content and generic declarations always match.
func contentMatchesDeclaredType(a *types.EmailAttachment) bool {
	declared := strings.ToLower(strings.TrimSpace(a.ContentType))
	if len(a.Content) == 0 || declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		return true
	}
	for m := mimetype.Detect(a.Content); m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	return false
}
