package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	dateLayout        = "2006-01-02"
)

// Ledger is the engine surface exposed over HTTP
type Ledger interface {
	Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, description, actorID, idempotencyKey string) (services.PostingResult, error)
	Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, description, actorID, idempotencyKey string) (services.PostingResult, error)
	Transfer(ctx context.Context, fromAccountID, toAccountID int64, amount decimal.Decimal, description, idempotencyKey, actorID string) (services.PostingResult, error)
	ReverseTransaction(ctx context.Context, transactionID int64, reason, actorID string) (services.PostingResult, error)
	RebuildAccountBalances(ctx context.Context, actorID string, asOf time.Time) (services.RebuildSummary, error)
	RebuildAccountBalance(ctx context.Context, accountID int64, actorID string, asOf time.Time) (services.RebuildResult, error)
	CalculateDailyInterest(ctx context.Context, date time.Time) (int, error)
	PostMonthlyInterest(ctx context.Context, periodDate time.Time) (services.InterestPostingSummary, error)
	VerifyDoubleEntry(ctx context.Context) (services.DoubleEntryReport, error)
	VerifyBalanceIntegrity(ctx context.Context) (services.IntegrityReport, error)
	EvaluateTransactionForFraud(ctx context.Context, transactionID int64) (services.FraudResult, error)
	DecideFraudItem(ctx context.Context, itemID int64, decision, notes, actorID string) (models.FraudQueueItem, error)
}

type LedgerHandler struct {
	engine    Ledger
	validator *ValidationHelper
	now       func() time.Time
}

func NewLedgerHandler(engine Ledger) *LedgerHandler {
	return &LedgerHandler{
		engine:    engine,
		validator: NewValidationHelper(),
		now:       time.Now,
	}
}

// Routes mounts the ledger endpoints. Callers are expected to wrap the router
// with middleware.Auth so every request carries an actor.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/accounts/{accountId}/deposits", h.Deposit)
	r.Post("/accounts/{accountId}/withdrawals", h.Withdraw)
	r.Post("/transfers", h.Transfer)
	r.Post("/transactions/{txId}/reversal", h.Reverse)

	r.Route("/reconciliation", func(r chi.Router) {
		r.Post("/rebuild", h.RebuildAll)
		r.Post("/accounts/{accountId}/rebuild", h.RebuildOne)
		r.Get("/double-entry", h.VerifyDoubleEntry)
		r.Get("/balance-integrity", h.VerifyBalanceIntegrity)
	})

	r.Route("/interest", func(r chi.Router) {
		r.Post("/accruals", h.AccrueInterest)
		r.Post("/postings", h.PostInterest)
	})

	r.Route("/fraud", func(r chi.Router) {
		r.Post("/transactions/{txId}/evaluate", h.EvaluateFraud)
		r.Post("/items/{itemId}/decision", h.DecideFraud)
	})
}

type movementRequest struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"500.25"`
	Description string          `json:"description" validate:"max=255"`
}

type transferRequest struct {
	FromAccountID int64           `json:"fromAccountId" validate:"required,gt=0"`
	ToAccountID   int64           `json:"toAccountId" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount" swaggertype:"string" example:"50.00"`
	Description   string          `json:"description" validate:"max=255"`
}

type reversalRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type rebuildRequest struct {
	AsOf string `json:"asOf" validate:"omitempty,datetime=2006-01-02"`
}

type accrualRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type interestPostingRequest struct {
	Period string `json:"period" validate:"required,datetime=2006-01-02"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVE BLOCK ESCALATE"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// Deposit credits an account from the cash account.
// @Summary Deposit into an account
// @Description Credits the account against the system cash account. Retries with the same Idempotency-Key replay the first result.
// @Tags postings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param Idempotency-Key header string true "Client idempotency key (max 128 chars)"
// @Param deposit body movementRequest true "Deposit amount and description"
// @Success 200 {object} services.PostingResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /accounts/{accountId}/deposits [post]
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.engine.Deposit)
}

// Withdraw debits an account to the cash account.
// @Summary Withdraw from an account
// @Description Debits the account against the system cash account. A refusal is recorded as a FAILED transaction.
// @Tags postings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param Idempotency-Key header string true "Client idempotency key (max 128 chars)"
// @Param withdrawal body movementRequest true "Withdrawal amount and description"
// @Success 200 {object} services.PostingResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /accounts/{accountId}/withdrawals [post]
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.engine.Withdraw)
}

type movementFunc func(ctx context.Context, accountID int64, amount decimal.Decimal, description, actorID, idempotencyKey string) (services.PostingResult, error)

func (h *LedgerHandler) movement(w http.ResponseWriter, r *http.Request, post movementFunc) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	key, ok := requireIdempotencyKey(w, r)
	if !ok {
		return
	}

	var req movementRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := post(r.Context(), accountID, req.Amount, req.Description, actorID, key)
	writePosting(w, result, err)
}

// Transfer moves money between two customer accounts.
// @Summary Transfer between accounts
// @Description Moves money between two customer accounts in one balanced posting
// @Tags postings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string true "Client idempotency key (max 128 chars)"
// @Param transfer body transferRequest true "Transfer data"
// @Success 200 {object} services.PostingResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /transfers [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	key, ok := requireIdempotencyKey(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description, key, actorID)
	writePosting(w, result, err)
}

// Reverse posts the mirror image of a completed transaction.
// @Summary Reverse a transaction
// @Description Posts the mirror entries of a completed transaction and marks it REVERSED
// @Tags postings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Param reversal body reversalRequest true "Reversal reason"
// @Success 200 {object} services.PostingResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transactions/{txId}/reversal [post]
func (h *LedgerHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	var req reversalRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.ReverseTransaction(r.Context(), transactionID, req.Reason, actorID)
	writePosting(w, result, err)
}

// RebuildAll recomputes every materialized balance from the journal.
// @Summary Rebuild all balances
// @Description Recomputes every materialized balance from the journal
// @Tags reconciliation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param rebuild body rebuildRequest false "Business date stamped on rebuilt balances"
// @Success 200 {object} services.RebuildSummary
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /reconciliation/rebuild [post]
func (h *LedgerHandler) RebuildAll(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req rebuildRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	asOf := h.now().UTC()
	if req.AsOf != "" {
		asOf, _ = time.Parse(dateLayout, req.AsOf)
	}

	summary, err := h.engine.RebuildAccountBalances(r.Context(), actorID, asOf)
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, summary)
}

// RebuildOne recomputes a single account balance.
// @Summary Rebuild one balance
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} services.RebuildResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reconciliation/accounts/{accountId}/rebuild [post]
func (h *LedgerHandler) RebuildOne(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	result, err := h.engine.RebuildAccountBalance(r.Context(), accountID, actorID, h.now().UTC())
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// VerifyDoubleEntry reports whether debits equal credits across the journal.
// @Summary Verify double entry
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.DoubleEntryReport
// @Failure 503 {object} ErrorResponse
// @Router /reconciliation/double-entry [get]
func (h *LedgerHandler) VerifyDoubleEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	report, err := h.engine.VerifyDoubleEntry(r.Context())
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

// VerifyBalanceIntegrity compares materialized balances with the journal.
// @Summary Verify balance integrity
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.IntegrityReport
// @Failure 503 {object} ErrorResponse
// @Router /reconciliation/balance-integrity [get]
func (h *LedgerHandler) VerifyBalanceIntegrity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	report, err := h.engine.VerifyBalanceIntegrity(r.Context())
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

// AccrueInterest runs the daily accrual for the given business date.
// @Summary Accrue daily interest
// @Tags interest
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accrual body accrualRequest true "Business date"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /interest/accruals [post]
func (h *LedgerHandler) AccrueInterest(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req accrualRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	date, _ := time.Parse(dateLayout, req.Date)

	affected, err := h.engine.CalculateDailyInterest(r.Context(), date)
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"date":     req.Date,
		"affected": affected,
	})
}

// PostInterest posts the unposted accruals of the month containing period.
// @Summary Post monthly interest
// @Tags interest
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param posting body interestPostingRequest true "Any date in the month to post"
// @Success 200 {object} services.InterestPostingSummary
// @Failure 400 {object} ErrorResponse
// @Router /interest/postings [post]
func (h *LedgerHandler) PostInterest(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req interestPostingRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	period, _ := time.Parse(dateLayout, req.Period)

	summary, err := h.engine.PostMonthlyInterest(r.Context(), period)
	if err != nil && summary.Count == 0 {
		sendEngineError(w, err, 0)
		return
	}
	resp := struct {
		services.InterestPostingSummary
		Error string `json:"error,omitempty"`
	}{InterestPostingSummary: summary}
	if err != nil {
		// some accounts were posted; the rest are retried on the next run
		resp.Error = err.Error()
	}
	sendJSON(w, http.StatusOK, resp)
}

// EvaluateFraud scores a committed transaction on demand.
// @Summary Score a transaction for fraud
// @Tags fraud
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Success 200 {object} services.FraudResult
// @Failure 404 {object} ErrorResponse
// @Router /fraud/transactions/{txId}/evaluate [post]
func (h *LedgerHandler) EvaluateFraud(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	transactionID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	result, err := h.engine.EvaluateTransactionForFraud(r.Context(), transactionID)
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// DecideFraud records a reviewer decision on a queued item.
// @Summary Decide a fraud review item
// @Tags fraud
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param itemId path int true "Fraud queue item ID"
// @Param decision body decisionRequest true "APPROVE, BLOCK or ESCALATE"
// @Success 200 {object} models.FraudQueueItem
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /fraud/items/{itemId}/decision [post]
func (h *LedgerHandler) DecideFraud(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemId")
	if !ok {
		return
	}

	var req decisionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	item, err := h.engine.DecideFraudItem(r.Context(), itemID, req.Decision, req.Notes, actorID)
	if err != nil {
		sendEngineError(w, err, 0)
		return
	}
	sendJSON(w, http.StatusOK, item)
}

func writePosting(w http.ResponseWriter, result services.PostingResult, err error) {
	if err != nil {
		sendEngineError(w, err, result.TransactionID)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID, ok := mW.ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return actorID, true
}

func requireIdempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		SendErrorResponse(w, "Idempotency-Key header required", http.StatusBadRequest, nil)
		return "", false
	}
	if len(key) > services.MaxIdempotencyKeyLength {
		SendErrorResponse(w, fmt.Sprintf("Idempotency-Key must be at most %d characters", services.MaxIdempotencyKeyLength), http.StatusBadRequest, nil)
		return "", false
	}
	return key, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid "+param, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}
