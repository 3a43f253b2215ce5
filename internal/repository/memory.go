package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/gophermart-payments/internal/model"
)

// MemoryRepository хранит журнал в памяти процесса. Все изменения статуса выполняются
// под одной блокировкой, поэтому проверка pending и смена статуса неделимы.
type MemoryRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*model.Payment
	balances map[int64]int64
	now      func() time.Time
	last     time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		payments: make(map[uuid.UUID]*model.Payment),
		balances: make(map[int64]int64),
		now:      time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreatePayment сохраняет новый платёж в статусе pending.
func (r *MemoryRepository) CreatePayment(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.payments {
		if existing.Code == p.Code {
			return ErrDuplicateCode
		}
	}

	created := r.now()
	if !created.After(r.last) {
		created = r.last.Add(time.Microsecond)
	}
	r.last = created

	p.Status = model.PaymentStatusPending
	p.CreatedAt = created
	stored := *p
	r.payments[p.ID] = &stored
	return nil
}

// GetPayment возвращает копию платежа по идентификатору.
func (r *MemoryRepository) GetPayment(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(p), nil
}

// ListPaymentsByUser возвращает платежи пользователя, новые первыми.
func (r *MemoryRepository) ListPaymentsByUser(_ context.Context, userID int64) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			res = append(res, *clonePayment(p))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// FindPending возвращает самый старый ожидающий платёж, подходящий под фильтр.
func (r *MemoryRepository) FindPending(_ context.Context, f PendingFilter) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *model.Payment
	for _, p := range r.payments {
		if p.Status != model.PaymentStatusPending {
			continue
		}
		if f.ID != uuid.Nil && p.ID != f.ID {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		if f.Code != "" && p.Code != f.Code {
			continue
		}
		if f.ExternalRef != "" && (p.ExternalRef == nil || *p.ExternalRef != f.ExternalRef) {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			found = p
		}
	}

	if found == nil {
		return nil, ErrNotFound
	}
	return clonePayment(found), nil
}

// ClaimExternalRef привязывает внешнюю ссылку к ожидающему платежу пользователя.
func (r *MemoryRepository) ClaimExternalRef(_ context.Context, id uuid.UUID, userID int64, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	if r.refTaken(p, ref) {
		return ErrReferenceTaken
	}
	if p.Status != model.PaymentStatusPending {
		return ErrNotClaimable
	}
	if p.ExternalRef != nil {
		if *p.ExternalRef == ref {
			return nil
		}
		return ErrNotClaimable
	}

	p.ExternalRef = &ref
	return nil
}

// Settle переводит платёж из pending в completed и начисляет баллы.
func (r *MemoryRepository) Settle(_ context.Context, id uuid.UUID, externalRef string) (*model.Settled, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return nil, ErrAlreadyFinalized
	}
	if r.refTaken(p, externalRef) {
		return nil, ErrReferenceTaken
	}

	now := r.now()
	p.Status = model.PaymentStatusCompleted
	p.ExternalRef = &externalRef
	p.FinalizedAt = &now
	r.balances[p.UserID] += p.Points

	return &model.Settled{
		PaymentID:   p.ID,
		UserID:      p.UserID,
		Points:      p.Points,
		Channel:     p.Method,
		ExternalRef: externalRef,
		SettledAt:   now,
	}, nil
}

// MarkFailed переводит платёж из pending в failed.
func (r *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return ErrAlreadyFinalized
	}

	now := r.now()
	p.Status = model.PaymentStatusFailed
	p.FinalizedAt = &now
	return nil
}

// GetBalance возвращает количество баллов пользователя.
func (r *MemoryRepository) GetBalance(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.balances[userID], nil
}

func (r *MemoryRepository) refTaken(self *model.Payment, ref string) bool {
	for _, other := range r.payments {
		if other.ID == self.ID || other.Method != self.Method || other.ExternalRef == nil {
			continue
		}
		if *other.ExternalRef == ref {
			return true
		}
	}
	return false
}

func clonePayment(p *model.Payment) *model.Payment {
	c := *p
	if p.ExternalRef != nil {
		ref := *p.ExternalRef
		c.ExternalRef = &ref
	}
	if p.FinalizedAt != nil {
		at := *p.FinalizedAt
		c.FinalizedAt = &at
	}
	return &c
}
