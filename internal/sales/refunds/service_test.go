package refunds

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/sales/transactions"
)

type memoryStore struct {
	refunds map[string]*Refund
	txns    map[string]*transactions.Transaction
}

func newMemoryStore(txns ...*transactions.Transaction) *memoryStore {
	s := &memoryStore{refunds: make(map[string]*Refund), txns: make(map[string]*transactions.Transaction)}
	for _, t := range txns {
		s.txns[t.ID] = t
	}
	return s
}

func cloneRefund(r *Refund) *Refund {
	data, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	var out Refund
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	out.Version = r.Version
	return &out
}

func cloneTransaction(t *transactions.Transaction) *transactions.Transaction {
	data, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	var out transactions.Transaction
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	out.Version = t.Version
	return &out
}

type memoryTx struct {
	store         *memoryStore
	stagedRefunds map[string]*Refund
	stagedTxns    map[string]*transactions.Transaction
}

// WithTx stages writes and commits only when fn succeeds, mirroring the
// all-or-nothing behaviour of the real repository.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		store:         s,
		stagedRefunds: make(map[string]*Refund),
		stagedTxns:    make(map[string]*transactions.Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, r := range tx.stagedRefunds {
		s.refunds[id] = r
	}
	for id, t := range tx.stagedTxns {
		s.txns[id] = t
	}
	return nil
}

func (s *memoryStore) GetRefund(ctx context.Context, id string) (*Refund, error) {
	r, ok := s.refunds[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	return cloneRefund(r), nil
}

func (s *memoryStore) ListByTransaction(ctx context.Context, transactionID string) ([]Refund, error) {
	var out []Refund
	for _, r := range s.refunds {
		if r.TransactionID == transactionID {
			out = append(out, *cloneRefund(r))
		}
	}
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*transactions.Transaction, error) {
	t, ok := s.txns[id]
	if !ok {
		return nil, transactions.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (tx *memoryTx) InsertRefund(ctx context.Context, r *Refund) error {
	tx.stagedRefunds[r.ID] = cloneRefund(r)
	return nil
}

func (tx *memoryTx) GetRefundForUpdate(ctx context.Context, id string) (*Refund, error) {
	if r, ok := tx.stagedRefunds[id]; ok {
		return cloneRefund(r), nil
	}
	r, ok := tx.store.refunds[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	return cloneRefund(r), nil
}

func (tx *memoryTx) UpdateRefund(ctx context.Context, r *Refund) error {
	tx.stagedRefunds[r.ID] = cloneRefund(r)
	return nil
}

func (tx *memoryTx) ListRefundsByTransaction(ctx context.Context, transactionID string) ([]Refund, error) {
	var out []Refund
	seen := make(map[string]bool)
	for _, r := range tx.stagedRefunds {
		if r.TransactionID == transactionID {
			out = append(out, *cloneRefund(r))
			seen[r.ID] = true
		}
	}
	for _, r := range tx.store.refunds {
		if r.TransactionID == transactionID && !seen[r.ID] {
			out = append(out, *cloneRefund(r))
		}
	}
	return out, nil
}

func (tx *memoryTx) GetTransactionForUpdate(ctx context.Context, id string) (*transactions.Transaction, error) {
	if t, ok := tx.stagedTxns[id]; ok {
		return cloneTransaction(t), nil
	}
	t, ok := tx.store.txns[id]
	if !ok {
		return nil, transactions.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (tx *memoryTx) UpdateTransaction(ctx context.Context, t *transactions.Transaction) error {
	tx.stagedTxns[t.ID] = cloneTransaction(t)
	return nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id string) (*inventory.Product, error) {
	return nil, inventory.ErrProductNotFound
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, p *inventory.Product) error {
	return nil
}

type fakeLedger struct {
	restores    []inventory.RestoreInput
	consumes    []inventory.ConsumeInput
	failProduct string
}

func (l *fakeLedger) RestoreTx(ctx context.Context, tx inventory.TxRepository, input inventory.RestoreInput) (inventory.RestoreResult, error) {
	if input.ProductID == l.failProduct {
		return inventory.RestoreResult{}, fmt.Errorf("restore failed for %s", input.ProductID)
	}
	l.restores = append(l.restores, input)
	return inventory.RestoreResult{}, nil
}

func (l *fakeLedger) ConsumeTx(ctx context.Context, tx inventory.TxRepository, input inventory.ConsumeInput) (inventory.ConsumeResult, error) {
	l.consumes = append(l.consumes, input)
	return inventory.ConsumeResult{}, nil
}

var testClock = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestService(store *memoryStore, ledger *fakeLedger) *Service {
	svc := NewService(store, store, ledger, nil, nil, nil)
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("refund-%d", seq)
	}
	svc.now = func() time.Time { return testClock }
	return svc
}

func saleTransaction(id string, total float64, items ...transactions.Item) *transactions.Transaction {
	return &transactions.Transaction{
		ID:            id,
		Items:         items,
		Status:        transactions.StatusCompleted,
		Type:          transactions.TypeCompleted,
		TotalAmount:   total,
		PaymentStatus: transactions.PaymentPaid,
		RefundStatus:  transactions.RefundNone,
		CreatedAt:     testClock.Add(-time.Hour),
		Version:       1,
	}
}

func productItem(productID, name string, qty, price float64) transactions.Item {
	return transactions.Item{
		Kind:       transactions.ItemProduct,
		ProductID:  productID,
		Name:       name,
		Quantity:   qty,
		Unit:       "unit",
		UnitPrice:  price,
		TotalPrice: qty * price,
	}
}

func TestCreatePartialRefundUpdatesRollup(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 100,
		productItem("X", "Echinacea Drops", 3, 20),
		productItem("Y", "Zinc Tablets", 1, 40)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
		Reason:        "damaged",
		CreatedBy:     "clerk-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, refund.Status)
	require.Equal(t, TypePartial, refund.RefundType)
	require.InDelta(t, 40, refund.RefundAmount, 1e-9)
	require.Equal(t, "Echinacea Drops", refund.Items[0].ProductName)
	require.InDelta(t, 3, refund.Items[0].OriginalQuantity, 1e-9)

	txn := store.txns["TX-1"]
	require.Equal(t, transactions.StatusPartiallyRefunded, txn.Status)
	require.Equal(t, transactions.RefundPartial, txn.RefundStatus)
	require.InDelta(t, 40, txn.TotalRefunded, 1e-9)
	require.Equal(t, 1, txn.RefundCount)
	require.Equal(t, []string{refund.ID}, txn.RefundHistory)
	require.NotNil(t, txn.LastRefundDate)
}

func TestCreateFullRefundMarksTransactionRefunded(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "Echinacea Drops", 3, 20)))
	svc := newTestService(store, &fakeLedger{})

	refund, err := svc.Create(context.Background(), CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, TypeFull, refund.RefundType)
	require.Equal(t, transactions.StatusRefunded, store.txns["TX-1"].Status)
	require.Equal(t, transactions.RefundFull, store.txns["TX-1"].RefundStatus)
}

func TestCreateRejectsCancelledAndDraftTransactions(t *testing.T) {
	cancelled := saleTransaction("TX-C", 60, productItem("X", "", 3, 20))
	cancelled.Status = transactions.StatusCancelled
	draft := saleTransaction("TX-D", 60, productItem("X", "", 3, 20))
	draft.Status = transactions.StatusDraft
	draft.Type = transactions.TypeDraft
	store := newMemoryStore(cancelled, draft)
	svc := newTestService(store, &fakeLedger{})

	for _, id := range []string{"TX-C", "TX-D"} {
		_, err := svc.Create(context.Background(), CreateInput{
			TransactionID: id,
			Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
		})
		var notRefundable *NotRefundableError
		require.ErrorAs(t, err, &notRefundable)
	}
}

func TestCreateRejectsQuantityBeyondRemaining(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 100,
		productItem("X", "", 3, 20), productItem("Y", "", 1, 40)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 4}},
	})
	var badQty *InvalidRefundQuantityError
	require.ErrorAs(t, err, &badQty)
	require.InDelta(t, 3, badQty.Remaining, 1e-9)

	// Earlier pending refunds count against what remains.
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)
	testClock = testClock.Add(time.Minute)
	defer func() { testClock = testClock.Add(-time.Minute) }()
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.ErrorAs(t, err, &badQty)
	require.InDelta(t, 1, badQty.Remaining, 1e-9)
}

func TestDuplicateWindowBlocksOverlappingItems(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 100,
		productItem("X", "", 4, 20), productItem("Y", "", 1, 20)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)

	// Same product inside the window is a duplicate.
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	var dup *DuplicateRefundError
	require.ErrorAs(t, err, &dup)

	// A disjoint item set in quick succession is allowed.
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "Y", RefundQuantity: 1}},
	})
	require.NoError(t, err)

	// Once the window passes, the same product is allowed again.
	testClock = testClock.Add(10 * time.Second)
	defer func() { testClock = testClock.Add(-10 * time.Second) }()
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)
}

func TestLifecycleApproveProcessComplete(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	ledger := &fakeLedger{}
	svc := newTestService(store, ledger)
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)

	refund, err = svc.Approve(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, refund.Status)
	require.Equal(t, "manager-1", refund.ApprovedBy)
	require.Empty(t, ledger.restores)

	refund, err = svc.Process(ctx, refund.ID, "clerk-2")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, refund.Status)
	require.Len(t, ledger.restores, 1)
	require.Equal(t, "X", ledger.restores[0].ProductID)
	require.InDelta(t, 2, ledger.restores[0].Quantity, 1e-9)
	require.Equal(t, refund.ID, ledger.restores[0].RefundRef)

	refund, err = svc.Complete(ctx, refund.ID, "clerk-2", "SETTLE-99")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, refund.Status)
	require.Equal(t, "SETTLE-99", refund.SettlementRef)

	// Completed refunds are immutable.
	_, err = svc.Cancel(ctx, refund.ID, "manager-1")
	var badTransition *InvalidTransitionError
	require.ErrorAs(t, err, &badTransition)
}

func TestProcessRequiresApproval(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.Process(ctx, refund.ID, "clerk-1")
	var badTransition *InvalidTransitionError
	require.ErrorAs(t, err, &badTransition)
}

func TestProcessFailureLeavesRefundApproved(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	ledger := &fakeLedger{failProduct: "X"}
	svc := newTestService(store, ledger)
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, refund.ID, "manager-1")
	require.NoError(t, err)

	_, err = svc.Process(ctx, refund.ID, "clerk-1")
	require.Error(t, err)

	stored, err := svc.Get(ctx, refund.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
	require.Nil(t, stored.ProcessedAt)
}

func TestRejectRederivesRollup(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 100,
		productItem("X", "", 3, 20), productItem("Y", "", 1, 40)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "Y", RefundQuantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.Reject(ctx, second.ID, "manager-1", "not damaged")
	require.NoError(t, err)

	txn := store.txns["TX-1"]
	require.InDelta(t, 40, txn.TotalRefunded, 1e-9)
	require.Equal(t, 1, txn.RefundCount)
	require.Equal(t, []string{first.ID}, txn.RefundHistory)
	require.Equal(t, transactions.StatusPartiallyRefunded, txn.Status)

	// Rejecting the last counting refund restores the transaction.
	_, err = svc.Reject(ctx, first.ID, "manager-1", "")
	require.NoError(t, err)
	txn = store.txns["TX-1"]
	require.InDelta(t, 0, txn.TotalRefunded, 1e-9)
	require.Equal(t, 0, txn.RefundCount)
	require.Empty(t, txn.RefundHistory)
	require.Equal(t, transactions.RefundNone, txn.RefundStatus)
	require.Equal(t, transactions.StatusCompleted, txn.Status)
}

func TestRejectedRefundFreesQuantityForRetry(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 3}},
	})
	require.NoError(t, err)
	_, err = svc.Reject(ctx, refund.ID, "manager-1", "")
	require.NoError(t, err)

	// A rejected refund neither blocks as a duplicate nor consumes quantity.
	retry, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, TypeFull, retry.RefundType)
}

func TestCancelAfterProcessingReconsumesStock(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	ledger := &fakeLedger{}
	svc := newTestService(store, ledger)
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, refund.ID, "clerk-1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Len(t, ledger.consumes, 1)
	require.Equal(t, "X", ledger.consumes[0].ProductID)
	require.InDelta(t, 2, ledger.consumes[0].Quantity, 1e-9)

	txn := store.txns["TX-1"]
	require.InDelta(t, 0, txn.TotalRefunded, 1e-9)
	require.Equal(t, transactions.StatusCompleted, txn.Status)
}

func TestCancelBeforeProcessingSkipsStock(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	ledger := &fakeLedger{}
	svc := newTestService(store, ledger)
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	require.Empty(t, ledger.consumes)
	require.Empty(t, ledger.restores)
}

func TestCalculateEligibility(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 100,
		productItem("X", "Echinacea Drops", 3, 20),
		productItem("Y", "Zinc Tablets", 1, 40)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)

	eligibility, err := svc.CalculateEligibility(ctx, "TX-1")
	require.NoError(t, err)
	require.True(t, eligibility.Eligible)
	require.InDelta(t, 60, eligibility.MaxRefundableAmount, 1e-9)
	require.Len(t, eligibility.RefundableItems, 2)

	byProduct := make(map[string]RefundableItem)
	for _, item := range eligibility.RefundableItems {
		byProduct[item.ProductID] = item
	}
	require.InDelta(t, 1, byProduct["X"].MaxRefundableQuantity, 1e-9)
	require.Equal(t, "Echinacea Drops", byProduct["X"].ProductName)
	require.InDelta(t, 1, byProduct["Y"].MaxRefundableQuantity, 1e-9)
	require.InDelta(t, 40, byProduct["Y"].UnitPrice, 1e-9)
}

func TestEligibilityExhaustedTransaction(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 3}},
	})
	require.NoError(t, err)

	eligibility, err := svc.CalculateEligibility(ctx, "TX-1")
	require.NoError(t, err)
	require.False(t, eligibility.Eligible)
	require.InDelta(t, 0, eligibility.MaxRefundableAmount, 1e-9)
	require.InDelta(t, 0, eligibility.RefundableItems[0].MaxRefundableQuantity, 1e-9)
}

func TestRejectOnUnpaidSaleRestoresPendingStatus(t *testing.T) {
	txn := saleTransaction("TX-1", 60, productItem("X", "", 3, 20))
	txn.Status = transactions.StatusPending
	txn.PaymentStatus = transactions.PaymentUnpaid
	store := newMemoryStore(txn)
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, transactions.StatusPartiallyRefunded, store.txns["TX-1"].Status)

	_, err = svc.Reject(ctx, refund.ID, "manager-1", "")
	require.NoError(t, err)

	stored := store.txns["TX-1"]
	require.Equal(t, transactions.StatusPending, stored.Status)
	require.Equal(t, transactions.RefundNone, stored.RefundStatus)
	require.InDelta(t, 0, stored.TotalRefunded, 1e-9)
}

func TestCancelOnUnpaidSaleRestoresPendingStatus(t *testing.T) {
	txn := saleTransaction("TX-1", 60, productItem("X", "", 3, 20))
	txn.Status = transactions.StatusPending
	txn.PaymentStatus = transactions.PaymentUnpaid
	store := newMemoryStore(txn)
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	require.Equal(t, transactions.StatusPending, store.txns["TX-1"].Status)
}

func TestRefundAmountsNeverExceedTransactionTotal(t *testing.T) {
	// Fractional unit prices force cent rounding on every refund line.
	store := newMemoryStore(saleTransaction("TX-1", 51.54,
		productItem("X", "", 3, 10.33),
		productItem("Y", "", 2, 10.275)))
	svc := newTestService(store, &fakeLedger{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 3}},
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "Y", RefundQuantity: 2}},
	})
	require.NoError(t, err)

	all, err := svc.ListByTransaction(ctx, "TX-1")
	require.NoError(t, err)
	var sum float64
	for _, r := range all {
		if r.CountsTowardRollup() {
			sum += r.RefundAmount
		}
	}
	txn := store.txns["TX-1"]
	require.LessOrEqual(t, sum, txn.TotalAmount+1e-9)
	require.InDelta(t, sum, txn.TotalRefunded, 1e-9)

	// The exhausted transaction refuses any further refund.
	eligibility, err := svc.CalculateEligibility(ctx, "TX-1")
	require.NoError(t, err)
	require.False(t, eligibility.Eligible)
	require.InDelta(t, 0, eligibility.MaxRefundableAmount, 1e-9)
}

type transitionRecorder struct {
	statuses []string
}

func (r *transitionRecorder) RefundTransition(status string) {
	r.statuses = append(r.statuses, status)
}

func TestLifecycleTransitionsRecorded(t *testing.T) {
	store := newMemoryStore(saleTransaction("TX-1", 60, productItem("X", "", 3, 20)))
	svc := newTestService(store, &fakeLedger{})
	recorder := &transitionRecorder{}
	svc.SetMetrics(recorder)
	ctx := context.Background()

	refund, err := svc.Create(ctx, CreateInput{
		TransactionID: "TX-1",
		Items:         []CreateItemInput{{ProductID: "X", RefundQuantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, refund.ID, "manager-1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, refund.ID, "manager-1", "SETTLE-1")
	require.NoError(t, err)

	require.Equal(t, []string{"pending", "approved", "processing", "completed"}, recorder.statuses)
}
