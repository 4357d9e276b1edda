package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"golang.org/x/sync/errgroup"
)

// maximum parallel uploads of one task
const storeConcurrency = 4

// canonicalEmail is the stored representation of an email wallet.
// Bcc recipients and attachment bytes are excluded, attachments are referenced by content hash.
type canonicalEmail struct {
	MessageID   string              `cbor:"1,keyasint"`
	From        string              `cbor:"2,keyasint"`
	To          []string            `cbor:"3,keyasint,omitempty"`
	Cc          []string            `cbor:"4,keyasint,omitempty"`
	Subject     string              `cbor:"5,keyasint"`
	BodyText    string              `cbor:"6,keyasint,omitempty"`
	BodyHTML    string              `cbor:"7,keyasint,omitempty"`
	SentAt      int64               `cbor:"8,keyasint,omitempty"`
	ReceivedAt  int64               `cbor:"9,keyasint"`
	Headers     map[string][]string `cbor:"10,keyasint,omitempty"`
	Attachments []string            `cbor:"11,keyasint,omitempty"`
}

// WalletCreator turns an authorized email into wallets: content hashing, storage and ledger recording.
// Progress is tracked on the task drafts so every phase can be re-run without repeating finished work.
type WalletCreator struct {
	store            ContentStore
	ledger           LedgerWriter
	signer           ed25519.PrivateKey
	minConfirmations int64
	now              func() time.Time
}

func NewWalletCreator(store ContentStore, ledger LedgerWriter, signer ed25519.PrivateKey, minConfirmations int64) *WalletCreator {
	return &WalletCreator{
		store:            store,
		ledger:           ledger,
		signer:           signer,
		minConfirmations: minConfirmations,
		now:              time.Now,
	}
}

// EmailContent returns the canonical bytes of an email and their sha256 hex
func EmailContent(msg *types.IncomingEmailMessage) ([]byte, string, error) {
	ce := canonicalEmail{
		MessageID:  msg.MessageID,
		From:       msg.From,
		To:         msg.To,
		Cc:         msg.Cc,
		Subject:    msg.Subject,
		BodyText:   msg.BodyText,
		BodyHTML:   msg.BodyHTML,
		SentAt:     msg.SentAt,
		ReceivedAt: msg.ReceivedAt,
		Headers:    msg.Headers,
	}
	for _, a := range sortedAttachments(msg) {
		ce.Attachments = append(ce.Attachments, attachmentHash(a))
	}
	hash, content, err := util.ContentHash(ce)
	if err != nil {
		return nil, "", err
	}
	return content, hash, nil
}

// DeriveWalletIDs returns the deterministic wallet ids of an email and its attachments (index order)
func DeriveWalletIDs(owner string, msg *types.IncomingEmailMessage) (string, []string, error) {
	drafts, err := buildDrafts(owner, msg)
	if err != nil {
		return "", nil, err
	}
	attachmentIDs := []string{}
	for _, d := range drafts[1:] {
		attachmentIDs = append(attachmentIDs, d.WalletID)
	}
	return drafts[0].WalletID, attachmentIDs, nil
}

func buildDrafts(owner string, msg *types.IncomingEmailMessage) ([]*types.WalletDraft, error) {
	content, hash, err := EmailContent(msg)
	if err != nil {
		return nil, err
	}
	emailDraft := &types.WalletDraft{
		WalletID:    util.WalletID(owner, hash, types.WalletKindEmail),
		Kind:        types.WalletKindEmail,
		Index:       -1,
		ContentHash: hash,
		Size:        int64(len(content)),
	}
	drafts := []*types.WalletDraft{emailDraft}
	for _, a := range sortedAttachments(msg) {
		h := attachmentHash(a)
		drafts = append(drafts, &types.WalletDraft{
			WalletID:       util.WalletID(owner, h, emailDraft.WalletID, strconv.Itoa(a.Index)),
			Kind:           types.WalletKindAttachment,
			Index:          a.Index,
			ContentHash:    h,
			Size:           int64(len(a.Content)),
			ParentWalletID: emailDraft.WalletID,
		})
	}
	return drafts, nil
}

// PrepareWallets computes content hashes and wallet ids of the task (processing phase)
func (wc *WalletCreator) PrepareWallets(task *types.EmailProcessingTask, msg *types.IncomingEmailMessage) error {
	if len(task.Wallets) > 0 {
		return nil
	}
	drafts, err := buildDrafts(task.OwnerWallet, msg)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
	}
	task.Wallets = drafts
	return nil
}

// StoreContent uploads content of every wallet without a storage reference (storage phase).
// References of successful uploads are kept on the drafts even when another upload fails.
func (wc *WalletCreator) StoreContent(ctx context.Context, task *types.EmailProcessingTask, msg *types.IncomingEmailMessage) error {
	byIndex := map[int]*types.EmailAttachment{}
	for _, a := range msg.Attachments {
		byIndex[a.Index] = a
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(storeConcurrency)
	for _, d := range task.Wallets {
		if d.StorageRef != "" {
			continue
		}
		draft := d
		var content []byte
		if draft.Kind == types.WalletKindEmail {
			c, _, err := EmailContent(msg)
			if err != nil {
				return fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
			}
			content = c
		} else {
			a, ok := byIndex[draft.Index]
			if !ok {
				return fmt.Errorf("%w: attachment %d missing", types.ErrInternal, draft.Index)
			}
			content = a.Content
		}
		g.Go(func() error {
			return wc.put(gctx, draft, content)
		})
	}
	return g.Wait()
}

func (wc *WalletCreator) put(ctx context.Context, draft *types.WalletDraft, content []byte) error {
	ref, err := wc.store.Put(ctx, draft.WalletID, content)
	if err != nil {
		return storageError(err)
	}
	draft.StorageRef = ref
	return nil
}

// RecordOnLedger records every stored wallet without a transaction, the email wallet first
// and attachments in index order. A parent wallet of the same task must be recorded before its children.
// afterEach is called after each successful write.
func (wc *WalletCreator) RecordOnLedger(ctx context.Context, task *types.EmailProcessingTask, afterEach func(draft *types.WalletDraft) error) error {
	inTask := map[string]bool{}
	for _, d := range task.Wallets {
		inTask[d.WalletID] = true
	}
	recorded := map[string]bool{}
	for _, d := range task.Wallets {
		if d.Transaction != nil {
			recorded[d.WalletID] = true
			continue
		}
		if d.StorageRef == "" {
			return fmt.Errorf("%w: wallet %s has no stored content", types.ErrInternal, d.WalletID)
		}
		if d.ParentWalletID != "" && inTask[d.ParentWalletID] && !recorded[d.ParentWalletID] {
			return fmt.Errorf("%w: parent wallet %s not recorded", types.ErrInternal, d.ParentWalletID)
		}
		record, err := wc.walletRecord(task.OwnerWallet, d)
		if err != nil {
			return err
		}
		tx, err := wc.ledger.RecordWallet(ctx, record)
		if err != nil {
			return ledgerError(err)
		}
		d.Transaction = tx
		recorded[d.WalletID] = true
		if afterEach != nil {
			if err := afterEach(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// VerifyTransactions checks every recorded transaction has the required confirmations (verification phase)
func (wc *WalletCreator) VerifyTransactions(ctx context.Context, task *types.EmailProcessingTask) (*types.VerificationInfo, error) {
	for _, d := range task.Wallets {
		if d.Verified {
			continue
		}
		if d.Transaction == nil {
			return nil, fmt.Errorf("%w: wallet %s not recorded", types.ErrLedgerFailure, d.WalletID)
		}
		if err := wc.verify(ctx, d); err != nil {
			return nil, err
		}
	}
	if len(task.Wallets) == 0 {
		return nil, fmt.Errorf("%w: no wallets to verify", types.ErrInternal)
	}
	emailDraft := task.Wallets[0]
	return &types.VerificationInfo{
		ContentHash:     emailDraft.ContentHash,
		TransactionHash: emailDraft.Transaction.TxHash,
		BlockHeight:     emailDraft.Transaction.BlockHeight,
		Confirmations:   emailDraft.Transaction.Confirmations,
		VerifiedAt:      wc.now().UTC().UnixMilli(),
	}, nil
}

func (wc *WalletCreator) verify(ctx context.Context, d *types.WalletDraft) error {
	tx, err := wc.ledger.GetTransaction(ctx, d.Transaction.TxHash)
	if err != nil {
		return ledgerError(err)
	}
	if tx.TxHash == "" {
		tx.TxHash = d.Transaction.TxHash
	}
	d.Transaction = tx
	if tx.Status == types.TxStatusReverted {
		return fmt.Errorf("%w: transaction %s of wallet %s", types.ErrLedgerReverted, tx.TxHash, d.WalletID)
	}
	if tx.Status != types.TxStatusConfirmed || tx.Confirmations < wc.minConfirmations {
		return fmt.Errorf("%w: transaction %s has %d of %d confirmations", types.ErrLedgerFailure, tx.TxHash, tx.Confirmations, wc.minConfirmations)
	}
	d.Verified = true
	return nil
}

// BuildResult summarizes a task whose wallets are all verified
func (wc *WalletCreator) BuildResult(task *types.EmailProcessingTask, verification *types.VerificationInfo, elapsed time.Duration) *types.WalletCreationResult {
	result := &types.WalletCreationResult{
		Success:             true,
		AttachmentWalletIDs: []string{},
		ElapsedMs:           elapsed.Milliseconds(),
		Verification:        verification,
	}
	attachments := 0
	for _, d := range task.Wallets {
		if d.Kind == types.WalletKindEmail {
			result.EmailWalletID = d.WalletID
			continue
		}
		attachments++
		result.AttachmentWalletIDs = append(result.AttachmentWalletIDs, d.WalletID)
	}
	rates := DefaultCreditRates
	if task.CreditRates != nil {
		rates = *task.CreditRates
	}
	result.CreditsUsed = CalculateCredits(rates, attachments).Total
	return result
}

// CreateEmailWallet creates the wallet of an email on its own (without attachments)
func (wc *WalletCreator) CreateEmailWallet(ctx context.Context, msg *types.IncomingEmailMessage, owner string, rates types.CreditRates) (*types.WalletCreationResult, error) {
	content, hash, err := EmailContent(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
	}
	draft := &types.WalletDraft{
		WalletID:    util.WalletID(owner, hash, types.WalletKindEmail),
		Kind:        types.WalletKindEmail,
		Index:       -1,
		ContentHash: hash,
		Size:        int64(len(content)),
	}
	return wc.createSingle(ctx, owner, draft, content, rates.EmailBase)
}

// CreateAttachmentWallet creates the wallet of one attachment linked to an existing email wallet
func (wc *WalletCreator) CreateAttachmentWallet(ctx context.Context, attachment *types.EmailAttachment, parentWalletID string, owner string, rates types.CreditRates) (*types.WalletCreationResult, error) {
	if parentWalletID == "" {
		return nil, fmt.Errorf("%w: parent wallet id is required", types.ErrBadRequest)
	}
	hash := attachmentHash(attachment)
	draft := &types.WalletDraft{
		WalletID:       util.WalletID(owner, hash, parentWalletID, strconv.Itoa(attachment.Index)),
		Kind:           types.WalletKindAttachment,
		Index:          attachment.Index,
		ContentHash:    hash,
		Size:           int64(len(attachment.Content)),
		ParentWalletID: parentWalletID,
	}
	return wc.createSingle(ctx, owner, draft, attachment.Content, rates.Attachment)
}

// createSingle runs one draft through the storage, ledger and verification phases
func (wc *WalletCreator) createSingle(ctx context.Context, owner string, draft *types.WalletDraft, content []byte, credits int) (*types.WalletCreationResult, error) {
	start := wc.now()
	task := &types.EmailProcessingTask{OwnerWallet: owner, Wallets: []*types.WalletDraft{draft}}
	verification, err := wc.storeAndVerify(ctx, task, draft, content)
	if err != nil {
		return &types.WalletCreationResult{Success: false, Error: err.Error(), ElapsedMs: wc.now().Sub(start).Milliseconds()}, err
	}
	result := wc.BuildResult(task, verification, wc.now().Sub(start))
	result.CreditsUsed = credits
	return result, nil
}

func (wc *WalletCreator) storeAndVerify(ctx context.Context, task *types.EmailProcessingTask, draft *types.WalletDraft, content []byte) (*types.VerificationInfo, error) {
	if err := wc.put(ctx, draft, content); err != nil {
		return nil, err
	}
	if err := wc.RecordOnLedger(ctx, task, nil); err != nil {
		return nil, err
	}
	return wc.VerifyTransactions(ctx, task)
}

// walletRecord builds the ledger record of a draft and signs its canonical encoding
func (wc *WalletCreator) walletRecord(owner string, d *types.WalletDraft) (*types.WalletRecord, error) {
	record := &types.WalletRecord{
		WalletID:       d.WalletID,
		Kind:           d.Kind,
		Owner:          owner,
		ContentHash:    d.ContentHash,
		StorageRef:     d.StorageRef,
		ParentWalletID: d.ParentWalletID,
		Index:          d.Index,
		Created:        wc.now().UTC().UnixMilli(),
	}
	if len(wc.signer) == 0 {
		return record, nil
	}
	payload, err := util.CanonicalBytes(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
	}
	signature, err := util.Sign(payload, wc.signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInternal, err.Error())
	}
	record.Signature = base64.StdEncoding.EncodeToString(signature)
	return record, nil
}

func sortedAttachments(msg *types.IncomingEmailMessage) []*types.EmailAttachment {
	out := []*types.EmailAttachment{}
	for _, a := range msg.Attachments {
		if a != nil {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// attachmentHash prefers the hash of the bytes over a declared hash
func attachmentHash(a *types.EmailAttachment) string {
	if len(a.Content) == 0 && a.ContentHash != "" {
		return a.ContentHash
	}
	return util.Sha256Hex(a.Content)
}

func storageError(err error) error {
	if errors.Is(err, types.ErrStorageFailure) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s", types.ErrStorageFailure, err.Error())
}

func ledgerError(err error) error {
	if errors.Is(err, types.ErrLedgerFailure) || errors.Is(err, types.ErrLedgerReverted) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s", types.ErrLedgerFailure, err.Error())
}
