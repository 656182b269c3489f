package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// postingRequest is the payload every transaction kind is dispatched through.
// Exactly one DEBIT and one CREDIT of Amount are written.
type postingRequest struct {
	Kind        models.TransactionType
	Debit       int64
	Credit      int64
	Source      int64 // recorded source_account_id, 0 for none
	Destination int64 // recorded destination_account_id, 0 for none
	Amount      decimal.Decimal
	Description string
	Actor       string
	Key         string
	Fingerprint string
	ReversalOf  *int64
	Message     string

	// systemLeg is the internal account the engine picked as counter-leg, 0 for none
	systemLeg int64
	// recordFailure persists a FAILED transaction when funds or account state reject the posting
	recordFailure bool
	// prepare runs first inside the unit of work and may fill in accounts and amount
	prepare func(ctx context.Context, tx store.Tx, req *postingRequest) error
	// finalize runs after journal rows and balances are written
	finalize func(ctx context.Context, tx store.Tx, p posted) error
}

type posted struct {
	Transaction models.Transaction
	DebitEntry  models.LedgerEntry
	CreditEntry models.LedgerEntry
}

type outcome struct {
	result   PostingResult
	replayed bool
}

// PostingEngine validates and atomically posts balanced journal pairs
type PostingEngine struct {
	store   store.Store
	guard   *IdempotencyGuard
	cfg     config.EngineConfig
	now     func() time.Time
	logger  *zap.Logger
	audit   audit.Logger
	metrics *Metrics

	afterCommit func(ctx context.Context, transactionID int64)
}

func NewPostingEngine(s store.Store, cfg config.EngineConfig, now func() time.Time, logger *zap.Logger, auditLogger audit.Logger, metrics *Metrics) *PostingEngine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &PostingEngine{
		store:   s,
		guard:   NewIdempotencyGuard(cfg.IdempotencyTTL, now),
		cfg:     cfg,
		now:     now,
		logger:  logger.Named("posting"),
		audit:   auditLogger,
		metrics: metrics,
	}
}

// OnCommitted registers a best-effort hook run after each fresh customer posting commits
func (e *PostingEngine) OnCommitted(hook func(ctx context.Context, transactionID int64)) {
	e.afterCommit = hook
}

// Deposit credits accountID against the system cash account
func (e *PostingEngine) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, description, actor, key string) (PostingResult, error) {
	return e.post(ctx, postingRequest{
		Kind:          models.TransactionDeposit,
		Debit:         e.cfg.SystemCashAccountID,
		Credit:        accountID,
		Destination:   accountID,
		systemLeg:     e.cfg.SystemCashAccountID,
		Amount:        amount,
		Description:   description,
		Actor:         actor,
		Key:           key,
		Fingerprint:   Fingerprint(string(models.TransactionDeposit), 0, accountID, amount, description),
		recordFailure: true,
	})
}

// Withdraw debits accountID against the system cash account
func (e *PostingEngine) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, description, actor, key string) (PostingResult, error) {
	return e.post(ctx, postingRequest{
		Kind:          models.TransactionWithdrawal,
		Debit:         accountID,
		Credit:        e.cfg.SystemCashAccountID,
		Source:        accountID,
		systemLeg:     e.cfg.SystemCashAccountID,
		Amount:        amount,
		Description:   description,
		Actor:         actor,
		Key:           key,
		Fingerprint:   Fingerprint(string(models.TransactionWithdrawal), accountID, 0, amount, description),
		recordFailure: true,
	})
}

// Transfer moves amount between two customer accounts
func (e *PostingEngine) Transfer(ctx context.Context, fromAccountID, toAccountID int64, amount decimal.Decimal, description, key, actor string) (PostingResult, error) {
	return e.post(ctx, postingRequest{
		Kind:          models.TransactionTransfer,
		Debit:         fromAccountID,
		Credit:        toAccountID,
		Source:        fromAccountID,
		Destination:   toAccountID,
		Amount:        amount,
		Description:   description,
		Actor:         actor,
		Key:           key,
		Fingerprint:   Fingerprint(string(models.TransactionTransfer), fromAccountID, toAccountID, amount, description),
		recordFailure: true,
	})
}

func validateRequest(req *postingRequest) error {
	if !req.Amount.IsPositive() {
		return newError(KindValidation, "amount must be positive")
	}
	if !req.Amount.Equal(req.Amount.Round(4)) {
		return newError(KindValidation, "amount must have at most 4 decimal places")
	}
	if req.Debit <= 0 || req.Credit <= 0 {
		return newError(KindValidation, "account id must be positive")
	}
	if req.Debit == req.Credit {
		return newError(KindValidation, "source and destination accounts must differ")
	}
	return nil
}

// validateCaller bounds the caller-supplied strings to their column widths
func validateCaller(req *postingRequest) error {
	if len(req.Key) > MaxIdempotencyKeyLength {
		return newError(KindValidation, "idempotency key must be at most %d characters", MaxIdempotencyKeyLength)
	}
	if len(req.Actor) > MaxActorLength {
		return newError(KindValidation, "actor must be at most %d characters", MaxActorLength)
	}
	return nil
}

// checkAccountRoles rejects internal accounts the engine did not pick itself.
func checkAccountRoles(req *postingRequest, accounts ...models.Account) error {
	for _, a := range accounts {
		if a.IsSystem() && a.ID != req.systemLeg {
			return newError(KindValidation, "account %d is an internal account and cannot be used for %s", a.ID, strings.ToLower(string(req.Kind)))
		}
	}
	return nil
}

// post runs the unit of work, re-running it whole on concurrent modification
func (e *PostingEngine) post(ctx context.Context, req postingRequest) (PostingResult, error) {
	err := validateCaller(&req)
	if err == nil && req.prepare == nil {
		err = validateRequest(&req)
	}
	if err != nil {
		e.audit.LogError(strings.ToLower(string(req.Kind)), 0, req.Actor, err)
		return PostingResult{}, err
	}

	var out outcome
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		r := req
		out, err = e.attempt(ctx, &r)
		req.Debit, req.Credit, req.Amount = r.Debit, r.Credit, r.Amount
		if err == nil || !retryable(err) {
			break
		}

		e.metrics.recordRetry(string(req.Kind))
		e.logger.Debug("retrying posting after concurrent modification",
			zap.String("kind", string(req.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < e.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return PostingResult{}, &Error{Kind: KindDependency, Message: "posting cancelled", Err: ctx.Err()}
			case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
	}

	if err != nil && retryable(err) {
		err = &Error{
			Kind:    KindConcurrency,
			Message: fmt.Sprintf("%s could not be posted after %d attempts", strings.ToLower(string(req.Kind)), e.cfg.MaxAttempts),
			Err:     err,
		}
	}

	if errors.Is(err, errNothingToPost) {
		return PostingResult{}, err
	}

	if out.replayed {
		e.logger.Debug("idempotent replay",
			zap.String("idempotency_key", req.Key),
			zap.Int64("transaction_id", out.result.TransactionID),
		)
		return out.result, err
	}

	status := out.result.Status
	if status == "" {
		status = models.TransactionStatusFailed
	}
	e.metrics.recordPosting(string(req.Kind), status)

	if out.result.TransactionID != 0 {
		e.audit.LogPosting(out.result.TransactionID, string(req.Kind), req.Debit, req.Credit, req.Amount, status, req.Actor)
	} else if err != nil {
		e.audit.LogError(strings.ToLower(string(req.Kind)), 0, req.Actor, err)
	}

	if err != nil {
		e.logger.Info("posting rejected",
			zap.String("kind", string(req.Kind)),
			zap.String("error_kind", string(KindOf(err))),
			zap.Error(err),
		)
		return out.result, err
	}

	if e.afterCommit != nil && isCustomerPosting(req.Kind) {
		e.afterCommit(ctx, out.result.TransactionID)
	}
	return out.result, nil
}

func isCustomerPosting(kind models.TransactionType) bool {
	switch kind {
	case models.TransactionDeposit, models.TransactionWithdrawal, models.TransactionTransfer:
		return true
	}
	return false
}

func (e *PostingEngine) attempt(ctx context.Context, req *postingRequest) (outcome, error) {
	tx, err := e.store.Begin(ctx, store.TxOptions{})
	if err != nil {
		return outcome{}, dependencyError("begin unit of work", err)
	}
	defer tx.Rollback()

	if req.Key != "" {
		decision, err := e.guard.Begin(ctx, tx, req.Key, req.Fingerprint)
		if err != nil {
			return outcome{}, err
		}
		if decision.Outcome == GuardReplay {
			return outcome{result: decision.Result, replayed: true}, decision.Result.Err()
		}
	}

	if req.prepare != nil {
		if err := req.prepare(ctx, tx, req); err != nil {
			return outcome{}, err
		}
		if err := validateRequest(req); err != nil {
			return outcome{}, err
		}
	}

	debitAccount, err := tx.GetAccount(ctx, req.Debit)
	if err != nil {
		return outcome{}, notFoundOr(err, "account", req.Debit, "load account")
	}
	creditAccount, err := tx.GetAccount(ctx, req.Credit)
	if err != nil {
		return outcome{}, notFoundOr(err, "account", req.Credit, "load account")
	}
	if err := checkAccountRoles(req, debitAccount, creditAccount); err != nil {
		return outcome{}, err
	}
	for _, a := range []models.Account{debitAccount, creditAccount} {
		if a.Currency != e.cfg.Currency {
			return outcome{}, newError(KindValidation, "account %d holds %s, expected %s", a.ID, a.Currency, e.cfg.Currency)
		}
	}

	balances, err := lockBalances(ctx, tx, req.Debit, req.Credit)
	if err != nil {
		return outcome{}, err
	}

	if failure := checkPostable(req, debitAccount, creditAccount, balances[req.Debit]); failure != nil {
		if !req.recordFailure {
			return outcome{}, failure
		}
		return e.recordFailure(ctx, tx, req, failure)
	}

	now := e.now()
	tr := &models.Transaction{
		Reference:            uuid.NewString(),
		Type:                 req.Kind,
		SourceAccountID:      optionalID(req.Source),
		DestinationAccountID: optionalID(req.Destination),
		Amount:               req.Amount,
		Currency:             e.cfg.Currency,
		Status:               models.TransactionStatusCompleted,
		Description:          req.Description,
		PerformedBy:          req.Actor,
		ReversalOf:           req.ReversalOf,
	}
	if err := tx.InsertTransaction(ctx, tr); err != nil {
		return outcome{}, dependencyError("insert transaction", err)
	}

	debitBalance := balances[req.Debit]
	creditBalance := balances[req.Credit]
	debitBalance.AvailableBalance = debitBalance.AvailableBalance.Sub(req.Amount)
	creditBalance.AvailableBalance = creditBalance.AvailableBalance.Add(req.Amount)

	p := posted{
		Transaction: *tr,
		DebitEntry:  newEntry(tr, req.Debit, models.EntryDebit, debitBalance.AvailableBalance, now),
		CreditEntry: newEntry(tr, req.Credit, models.EntryCredit, creditBalance.AvailableBalance, now),
	}
	if err := tx.InsertEntry(ctx, &p.DebitEntry); err != nil {
		return outcome{}, dependencyError("insert ledger entry", err)
	}
	if err := tx.InsertEntry(ctx, &p.CreditEntry); err != nil {
		return outcome{}, dependencyError("insert ledger entry", err)
	}

	for _, b := range orderedBalances(debitBalance, creditBalance) {
		b.LastTransactionID = &tr.ID
		b.LastCalculatedAt = now
		if err := tx.UpdateBalance(ctx, b, b.Version); err != nil {
			return outcome{}, dependencyError("update balance", err)
		}
	}

	if req.finalize != nil {
		if err := req.finalize(ctx, tx, p); err != nil {
			return outcome{}, err
		}
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("%s of %s %s completed", strings.ToLower(string(req.Kind)), req.Amount.StringFixed(4), e.cfg.Currency)
	}
	result := PostingResult{
		TransactionID: tr.ID,
		Reference:     tr.Reference,
		Status:        models.TransactionStatusCompleted,
		Message:       message,
	}

	if req.Key != "" {
		if err := e.guard.Commit(ctx, tx, req.Key, req.Fingerprint, result); err != nil {
			return outcome{}, dependencyError("save idempotency key", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return outcome{}, dependencyError("commit", err)
	}

	e.logger.Debug("posting committed",
		zap.Int64("transaction_id", tr.ID),
		zap.String("kind", string(req.Kind)),
		zap.Int64("debit_account", req.Debit),
		zap.Int64("credit_account", req.Credit),
		zap.String("amount", req.Amount.String()),
	)
	return outcome{result: result}, nil
}

// recordFailure writes a FAILED transaction without journal rows and caches the
// failure under the idempotency key so retries see the same message.
func (e *PostingEngine) recordFailure(ctx context.Context, tx store.Tx, req *postingRequest, failure *Error) (outcome, error) {
	tr := &models.Transaction{
		Reference:            uuid.NewString(),
		Type:                 req.Kind,
		SourceAccountID:      optionalID(req.Source),
		DestinationAccountID: optionalID(req.Destination),
		Amount:               req.Amount,
		Currency:             e.cfg.Currency,
		Status:               models.TransactionStatusFailed,
		Description:          req.Description,
		PerformedBy:          req.Actor,
		ReversalOf:           req.ReversalOf,
	}
	if err := tx.InsertTransaction(ctx, tr); err != nil {
		return outcome{}, dependencyError("insert transaction", err)
	}

	result := PostingResult{
		TransactionID: tr.ID,
		Reference:     tr.Reference,
		Status:        models.TransactionStatusFailed,
		Message:       failure.Message,
		ErrorKind:     failure.Kind,
	}
	if req.Key != "" {
		if err := e.guard.Commit(ctx, tx, req.Key, req.Fingerprint, result); err != nil {
			return outcome{}, dependencyError("save idempotency key", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return outcome{}, dependencyError("commit", err)
	}
	return outcome{result: result}, failure
}

// lockBalances locks the balance rows in ascending account id order
func lockBalances(ctx context.Context, tx store.Tx, ids ...int64) (map[int64]models.AccountBalance, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	balances := make(map[int64]models.AccountBalance, len(ordered))
	for _, id := range ordered {
		if _, ok := balances[id]; ok {
			continue
		}
		b, err := tx.LockBalance(ctx, id)
		if err != nil {
			return nil, notFoundOr(err, "balance for account", id, "lock balance")
		}
		balances[id] = b
	}
	return balances, nil
}

func orderedBalances(a, b models.AccountBalance) []models.AccountBalance {
	if a.AccountID > b.AccountID {
		return []models.AccountBalance{b, a}
	}
	return []models.AccountBalance{a, b}
}

func checkPostable(req *postingRequest, debit, credit models.Account, debitBalance models.AccountBalance) *Error {
	if debit.Status != models.AccountStatusActive {
		return newError(KindAccountState, "account %d is %s", debit.ID, debit.Status)
	}
	if credit.Status != models.AccountStatusActive {
		return newError(KindAccountState, "account %d is %s", credit.ID, credit.Status)
	}
	if debit.IsSystem() && debit.ID == req.systemLeg {
		return nil
	}
	if debit.BalanceLocked {
		return newError(KindAccountState, "account %d is locked", debit.ID)
	}
	if debitBalance.AvailableBalance.LessThan(req.Amount) {
		return newError(KindInsufficientFunds, "insufficient funds in account %d: available %s, requested %s",
			debit.ID, debitBalance.AvailableBalance.StringFixed(4), req.Amount.StringFixed(4))
	}
	return nil
}

func newEntry(tr *models.Transaction, accountID int64, entryType string, balanceAfter decimal.Decimal, now time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		TransactionID: tr.ID,
		AccountID:     accountID,
		EntryType:     entryType,
		Amount:        tr.Amount,
		Currency:      tr.Currency,
		BalanceAfter:  balanceAfter,
		EntryDate:     now,
	}
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
