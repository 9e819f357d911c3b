package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// InBillTx runs fn as one unit of work on billID. Writes become visible to
// other readers only when fn returns nil.
func (s *Store) InBillTx(ctx context.Context, billID string, fn func(repository.BillTx) error) error {
	tx := &billTx{store: s, billID: billID}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "bill transaction aborted")
	}
	if err := s.takeFault(FaultCommit); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type billTx struct {
	store  *Store
	billID string

	lock    *sync.Mutex // held from the first write until release
	bill    *repository.Bill
	steps   []*repository.ApprovalStep
	audit   []*repository.AuditEntry
	written bool
}

func (t *billTx) Bill(ctx context.Context) (*repository.Bill, error) {
	if t.written {
		return cloneBill(t.bill), nil
	}
	return t.store.GetByID(ctx, t.billID)
}

func (t *billTx) Steps(ctx context.Context) ([]*repository.ApprovalStep, error) {
	if t.written {
		return cloneSteps(t.steps), nil
	}
	return t.store.GetSteps(ctx, t.billID)
}

// beginWrite takes the bill's writer lock and copies the latest committed
// state into the transaction.
func (t *billTx) beginWrite() error {
	if t.written {
		return nil
	}
	l := t.store.lockFor(t.billID)
	l.Lock()
	t.lock = l

	t.store.mu.RLock()
	b, ok := t.store.bills[t.billID]
	if ok {
		t.bill = cloneBill(b)
		t.steps = cloneSteps(t.store.steps[t.billID])
	}
	t.store.mu.RUnlock()

	if !ok {
		return errors.NotFound("bill", t.billID)
	}
	t.written = true
	return nil
}

func (t *billTx) InsertSteps(_ context.Context, steps []*repository.ApprovalStep) error {
	if err := t.beginWrite(); err != nil {
		return err
	}
	if err := t.store.takeFault(FaultInsertSteps); err != nil {
		return err
	}
	now := t.store.now()
	for _, st := range steps {
		st.ID = uuid.NewString()
		st.BillID = t.billID
		st.CreatedAt = now
		c := *st
		t.steps = append(t.steps, &c)
	}
	return nil
}

func (t *billTx) TransitionStep(_ context.Context, tr repository.StepTransition) (bool, error) {
	if err := t.beginWrite(); err != nil {
		return false, err
	}
	if err := t.store.takeFault(FaultTransitionStep); err != nil {
		return false, err
	}
	for _, st := range t.steps {
		if st.ID != tr.StepID {
			continue
		}
		if st.Status != tr.From {
			return false, nil
		}
		st.Status = tr.To
		if tr.Comments != nil {
			st.Comments = tr.Comments
		}
		if tr.ActedAt != nil {
			st.ActedAt = tr.ActedAt
		}
		return true, nil
	}
	return false, nil
}

func (t *billTx) TransitionBill(_ context.Context, tr repository.BillTransition) (bool, error) {
	if err := t.beginWrite(); err != nil {
		return false, err
	}
	if err := t.store.takeFault(FaultTransitionBill); err != nil {
		return false, err
	}
	if t.bill.Status != tr.From {
		return false, nil
	}
	t.bill.Status = tr.To
	t.bill.CurrentApprovalLevel = tr.Level
	t.bill.UpdatedAt = t.store.now()
	return true, nil
}

func (t *billTx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	if err := t.beginWrite(); err != nil {
		return err
	}
	if err := t.store.takeFault(FaultAppendAudit); err != nil {
		return err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = t.store.now()
	c := *entry
	t.audit = append(t.audit, &c)
	return nil
}

func (t *billTx) commit() {
	if !t.written {
		return
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills[t.billID] = t.bill
	s.steps[t.billID] = t.steps
	s.audit = append(s.audit, t.audit...)
}

func (t *billTx) release() {
	if t.lock != nil {
		t.lock.Unlock()
		t.lock = nil
	}
}
