// Package memstore is an in-process implementation of the ledger unit of work.
//
// Each Tx holds the store mutex from Begin until Commit or Rollback and works
// on a private copy of the tables, so units of work are serializable and a
// rollback simply drops the copy. It backs the engine tests and local runs
// without PostgreSQL.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/shopspring/decimal"
)

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*Tx)(nil)
)

var errTxDone = errors.New("memstore: transaction already finished")

type tables struct {
	accounts     map[int64]models.Account
	balances     map[int64]models.AccountBalance
	transactions map[int64]models.Transaction
	entries      []models.LedgerEntry
	idemKeys     map[string]models.IdempotencyKey
	accruals     map[int64]models.AccruedInterest
	fraud        map[int64]models.FraudQueueItem

	accountSeq, transactionSeq, entrySeq, accrualSeq, fraudSeq int64
}

func newTables() *tables {
	return &tables{
		accounts:     map[int64]models.Account{},
		balances:     map[int64]models.AccountBalance{},
		transactions: map[int64]models.Transaction{},
		idemKeys:     map[string]models.IdempotencyKey{},
		accruals:     map[int64]models.AccruedInterest{},
		fraud:        map[int64]models.FraudQueueItem{},
	}
}

func (t *tables) clone() *tables {
	c := *t
	c.accounts = make(map[int64]models.Account, len(t.accounts))
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	c.balances = make(map[int64]models.AccountBalance, len(t.balances))
	for k, v := range t.balances {
		c.balances[k] = v
	}
	c.transactions = make(map[int64]models.Transaction, len(t.transactions))
	for k, v := range t.transactions {
		c.transactions[k] = v
	}
	c.entries = append([]models.LedgerEntry(nil), t.entries...)
	c.idemKeys = make(map[string]models.IdempotencyKey, len(t.idemKeys))
	for k, v := range t.idemKeys {
		c.idemKeys[k] = v
	}
	c.accruals = make(map[int64]models.AccruedInterest, len(t.accruals))
	for k, v := range t.accruals {
		c.accruals[k] = v
	}
	c.fraud = make(map[int64]models.FraudQueueItem, len(t.fraud))
	for k, v := range t.fraud {
		c.fraud[k] = v
	}
	return &c
}

// Store keeps all ledger tables in memory.
type Store struct {
	mu   sync.Mutex
	data *tables
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{data: newTables(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Begin(ctx context.Context, _ store.TxOptions) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &Tx{store: s, data: s.data.clone()}, nil
}

// CreateAccount provisions an account with a zero balance row.
func (s *Store) CreateAccount(a models.Account) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.accountSeq++
	if a.ID == 0 {
		a.ID = s.data.accountSeq
	} else if a.ID > s.data.accountSeq {
		s.data.accountSeq = a.ID
	}
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}
	a.CreatedAt = s.now()
	s.data.accounts[a.ID] = a
	s.data.balances[a.ID] = models.AccountBalance{
		AccountID:        a.ID,
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		HoldBalance:      decimal.Zero,
		Currency:         a.Currency,
		LastCalculatedAt: a.CreatedAt,
	}
	return a
}

// UpdateAccount replaces account identity fields such as status or balance_locked.
func (s *Store) UpdateAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[a.ID] = a
}

// FreezeAccount suspends an ACTIVE account. It must not be called from inside a Tx.
func (s *Store) FreezeAccount(_ context.Context, accountID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status == models.AccountStatusActive {
		a.Status = models.AccountStatusSuspended
		s.data.accounts[accountID] = a
	}
	return nil
}

// SetAvailableBalance overwrites a materialized balance without touching the journal.
func (s *Store) SetAvailableBalance(accountID int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.data.balances[accountID]
	b.AvailableBalance = amount
	s.data.balances[accountID] = b
}

// Balance returns the committed balance row of an account.
func (s *Store) Balance(accountID int64) models.AccountBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.balances[accountID]
}

// Transaction returns a committed transaction.
func (s *Store) Transaction(id int64) (models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.data.transactions[id]
	return tr, ok
}

// Entries returns all committed ledger entries of one transaction, or all when transactionID is 0.
func (s *Store) Entries(transactionID int64) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.LedgerEntry{}
	for _, e := range s.data.entries {
		if transactionID == 0 || e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

// Accruals returns all committed accrual rows ordered by id.
func (s *Store) Accruals() []models.AccruedInterest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AccruedInterest, 0, len(s.data.accruals))
	for _, a := range s.data.accruals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FraudItems returns all committed review items ordered by id.
func (s *Store) FraudItems() []models.FraudQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FraudQueueItem, 0, len(s.data.fraud))
	for _, f := range s.data.fraud {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tx is a serializable unit of work over a private copy of the tables.
type Tx struct {
	store *Store
	data  *tables
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.data = t.data
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

// Accounts

func (t *Tx) GetAccount(_ context.Context, id int64) (models.Account, error) {
	a, ok := t.data.accounts[id]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (t *Tx) ListAccountIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(t.data.accounts))
	for id := range t.data.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *Tx) InterestBearingAccounts(ctx context.Context, accountTypes []string) ([]store.AccountWithBalance, error) {
	types := map[string]bool{}
	for _, at := range accountTypes {
		types[at] = true
	}

	ids, _ := t.ListAccountIDs(ctx)
	result := []store.AccountWithBalance{}
	for _, id := range ids {
		a := t.data.accounts[id]
		if a.Status != models.AccountStatusActive || !types[a.AccountType] {
			continue
		}
		b, ok := t.data.balances[id]
		if !ok {
			continue
		}
		result = append(result, store.AccountWithBalance{Account: a, Balance: b})
	}
	return result, nil
}

// Balances

func (t *Tx) LockBalance(_ context.Context, accountID int64) (models.AccountBalance, error) {
	b, ok := t.data.balances[accountID]
	if !ok {
		return models.AccountBalance{}, store.ErrNotFound
	}
	return b, nil
}

func (t *Tx) UpdateBalance(_ context.Context, b models.AccountBalance, expectedVersion int64) error {
	current, ok := t.data.balances[b.AccountID]
	if !ok || current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	b.Version = expectedVersion + 1
	t.data.balances[b.AccountID] = b
	return nil
}

func (t *Tx) ListBalances(_ context.Context) ([]models.AccountBalance, error) {
	out := make([]models.AccountBalance, 0, len(t.data.balances))
	for _, b := range t.data.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Journal

func (t *Tx) InsertTransaction(_ context.Context, tr *models.Transaction) error {
	for _, existing := range t.data.transactions {
		if existing.Reference == tr.Reference {
			return store.ErrDuplicateKey
		}
	}
	t.data.transactionSeq++
	tr.ID = t.data.transactionSeq
	tr.CreatedAt = t.store.now()
	t.data.transactions[tr.ID] = *tr
	return nil
}

func (t *Tx) GetTransaction(_ context.Context, id int64) (models.Transaction, error) {
	tr, ok := t.data.transactions[id]
	if !ok {
		return models.Transaction{}, store.ErrNotFound
	}
	return tr, nil
}

func (t *Tx) LockTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *Tx) UpdateTransactionStatus(_ context.Context, id int64, status string) error {
	tr, ok := t.data.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	tr.Status = status
	t.data.transactions[id] = tr
	return nil
}

func (t *Tx) InsertEntry(_ context.Context, e *models.LedgerEntry) error {
	if _, ok := t.data.transactions[e.TransactionID]; !ok {
		return store.ErrNotFound
	}
	t.data.entrySeq++
	e.ID = t.data.entrySeq
	e.CreatedAt = t.store.now()
	t.data.entries = append(t.data.entries, *e)
	return nil
}

func (t *Tx) EntriesForTransaction(_ context.Context, transactionID int64) ([]models.LedgerEntry, error) {
	out := []models.LedgerEntry{}
	for _, e := range t.data.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *Tx) SumEntries(_ context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range t.data.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.EntryType == models.EntryCredit {
			credits = credits.Add(e.Amount)
		} else {
			debits = debits.Add(e.Amount)
		}
	}
	return credits, debits, nil
}

func (t *Tx) ComputedBalances(_ context.Context) (map[int64]decimal.Decimal, error) {
	computed := map[int64]decimal.Decimal{}
	for _, e := range t.data.entries {
		computed[e.AccountID] = computed[e.AccountID].Add(e.Signed())
	}
	return computed, nil
}

func (t *Tx) JournalTotals(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range t.data.entries {
		if e.EntryType == models.EntryCredit {
			credits = credits.Add(e.Amount)
		} else {
			debits = debits.Add(e.Amount)
		}
	}
	return credits, debits, nil
}

func (t *Tx) UnbalancedTransactions(_ context.Context) ([]int64, error) {
	net := map[int64]decimal.Decimal{}
	for _, e := range t.data.entries {
		net[e.TransactionID] = net[e.TransactionID].Add(e.Signed())
	}
	ids := []int64{}
	for id, sum := range net {
		if !sum.IsZero() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *Tx) CountOutgoingSince(_ context.Context, accountID int64, since time.Time) (int, error) {
	count := 0
	for _, tr := range t.data.transactions {
		if tr.SourceAccountID != nil && *tr.SourceAccountID == accountID &&
			tr.Status == models.TransactionStatusCompleted && !tr.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (t *Tx) FindTransfer(_ context.Context, from, to int64, amount decimal.Decimal, since time.Time) (models.Transaction, error) {
	var found models.Transaction
	ok := false
	for _, tr := range t.data.transactions {
		if tr.Type != models.TransactionTransfer || tr.Status != models.TransactionStatusCompleted {
			continue
		}
		if tr.SourceAccountID == nil || *tr.SourceAccountID != from ||
			tr.DestinationAccountID == nil || *tr.DestinationAccountID != to {
			continue
		}
		if !tr.Amount.Equal(amount) || tr.CreatedAt.Before(since) {
			continue
		}
		if !ok || tr.CreatedAt.After(found.CreatedAt) || (tr.CreatedAt.Equal(found.CreatedAt) && tr.ID > found.ID) {
			found, ok = tr, true
		}
	}
	if !ok {
		return models.Transaction{}, store.ErrNotFound
	}
	return found, nil
}

// Idempotency keys

func (t *Tx) GetIdempotencyKey(_ context.Context, key string) (models.IdempotencyKey, error) {
	k, ok := t.data.idemKeys[key]
	if !ok {
		return models.IdempotencyKey{}, store.ErrNotFound
	}
	return k, nil
}

func (t *Tx) SaveIdempotencyKey(_ context.Context, k models.IdempotencyKey, now time.Time) error {
	if existing, ok := t.data.idemKeys[k.Key]; ok && !existing.Expired(now) {
		return store.ErrDuplicateKey
	}
	k.CreatedAt = now
	k.ResponseBody = append([]byte(nil), k.ResponseBody...)
	t.data.idemKeys[k.Key] = k
	return nil
}

// Accruals

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (t *Tx) InsertAccrual(_ context.Context, a *models.AccruedInterest) (bool, error) {
	for _, existing := range t.data.accruals {
		if existing.AccountID == a.AccountID && sameDay(existing.CalculationDate, a.CalculationDate) {
			return false, nil
		}
	}
	t.data.accrualSeq++
	a.ID = t.data.accrualSeq
	a.CreatedAt = t.store.now()
	t.data.accruals[a.ID] = *a
	return true, nil
}

func inRange(d, from, to time.Time) bool {
	return !d.Before(from) && d.Before(to)
}

func (t *Tx) AccountsWithUnpostedAccruals(_ context.Context, from, to time.Time) ([]int64, error) {
	seen := map[int64]bool{}
	ids := []int64{}
	for _, a := range t.data.accruals {
		if a.IsPosted || !inRange(a.CalculationDate, from, to) || seen[a.AccountID] {
			continue
		}
		seen[a.AccountID] = true
		ids = append(ids, a.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *Tx) LockUnpostedAccruals(_ context.Context, accountID int64, from, to time.Time) ([]models.AccruedInterest, error) {
	out := []models.AccruedInterest{}
	for _, a := range t.data.accruals {
		if a.AccountID == accountID && !a.IsPosted && inRange(a.CalculationDate, from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalculationDate.Before(out[j].CalculationDate) })
	return out, nil
}

func (t *Tx) MarkAccrualPosted(_ context.Context, id int64, ledgerEntryID int64) error {
	a, ok := t.data.accruals[id]
	if !ok || a.IsPosted {
		return store.ErrNotFound
	}
	a.IsPosted = true
	a.LedgerEntryID = &ledgerEntryID
	t.data.accruals[id] = a
	return nil
}

// Fraud queue

func (t *Tx) InsertFraudItem(_ context.Context, item *models.FraudQueueItem) error {
	for _, existing := range t.data.fraud {
		if existing.TransactionID == item.TransactionID {
			return store.ErrAlreadyExists
		}
	}
	t.data.fraudSeq++
	item.ID = t.data.fraudSeq
	item.CreatedAt = t.store.now()
	t.data.fraud[item.ID] = *item
	return nil
}

func (t *Tx) LockFraudItem(_ context.Context, id int64) (models.FraudQueueItem, error) {
	item, ok := t.data.fraud[id]
	if !ok {
		return models.FraudQueueItem{}, store.ErrNotFound
	}
	return item, nil
}

func (t *Tx) UpdateFraudDecision(_ context.Context, item models.FraudQueueItem) error {
	if _, ok := t.data.fraud[item.ID]; !ok {
		return store.ErrNotFound
	}
	t.data.fraud[item.ID] = item
	return nil
}
