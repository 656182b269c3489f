package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

// ReversalEngine posts compensating entries for completed transactions
type ReversalEngine struct {
	posting *PostingEngine
}

func NewReversalEngine(posting *PostingEngine) *ReversalEngine {
	return &ReversalEngine{posting: posting}
}

// Reverse mirrors the journal rows of transactionID with DEBIT and CREDIT swapped
// and marks the original REVERSED in the same unit of work.
func (r *ReversalEngine) Reverse(ctx context.Context, transactionID int64, reason, actor string) (PostingResult, error) {
	reason = strings.TrimSpace(reason)
	if transactionID <= 0 {
		return PostingResult{}, newError(KindValidation, "transaction id must be positive")
	}
	if reason == "" {
		return PostingResult{}, newError(KindValidation, "reversal reason is required")
	}

	originalID := transactionID
	result, err := r.posting.post(ctx, postingRequest{
		Kind:          models.TransactionReversal,
		Actor:         actor,
		ReversalOf:    &originalID,
		Message:       fmt.Sprintf("transaction %d reversed", transactionID),
		recordFailure: true,
		prepare: func(ctx context.Context, tx store.Tx, req *postingRequest) error {
			original, err := tx.LockTransaction(ctx, transactionID)
			if err != nil {
				return notFoundOr(err, "transaction", transactionID, "load transaction")
			}

			switch {
			case original.Status == models.TransactionStatusReversed:
				return newError(KindAlreadyReversed, "transaction %d is already reversed", transactionID)
			case original.Type == models.TransactionReversal:
				return newError(KindValidation, "transaction %d is a reversal and cannot be reversed", transactionID)
			case original.Status != models.TransactionStatusCompleted:
				return newError(KindValidation, "transaction %d is %s and cannot be reversed", transactionID, original.Status)
			}

			entries, err := tx.EntriesForTransaction(ctx, transactionID)
			if err != nil {
				return dependencyError("load ledger entries", err)
			}
			var debit, credit *models.LedgerEntry
			for i := range entries {
				switch entries[i].EntryType {
				case models.EntryDebit:
					debit = &entries[i]
				case models.EntryCredit:
					credit = &entries[i]
				}
			}
			if len(entries) != 2 || debit == nil || credit == nil || !debit.Amount.Equal(credit.Amount) {
				return newError(KindIntegrityViolation, "transaction %d does not have a balanced entry pair", transactionID)
			}

			req.Debit = credit.AccountID
			req.Credit = debit.AccountID
			req.Amount = original.Amount
			req.Source = derefID(original.DestinationAccountID)
			req.Destination = derefID(original.SourceAccountID)
			// the leg that was neither source nor destination was picked by the engine
			for _, id := range []int64{req.Debit, req.Credit} {
				if id != req.Source && id != req.Destination {
					req.systemLeg = id
				}
			}
			req.Description = fmt.Sprintf("Reversal of %s: %s", original.Reference, reason)
			return nil
		},
		finalize: func(ctx context.Context, tx store.Tx, _ posted) error {
			if err := tx.UpdateTransactionStatus(ctx, transactionID, models.TransactionStatusReversed); err != nil {
				return dependencyError("mark transaction reversed", err)
			}
			return nil
		},
	})
	if err != nil {
		return result, err
	}

	r.posting.audit.LogOperation(audit.EventReversal, result.TransactionID, actor, map[string]any{
		"original_transaction_id": transactionID,
		"reason":                  reason,
	})
	return result, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
