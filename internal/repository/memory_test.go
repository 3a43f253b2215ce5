package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gophermart-payments/internal/model"
)

func newPayment(userID int64, method model.Method, code string) *model.Payment {
	return &model.Payment{
		ID:       uuid.New(),
		UserID:   userID,
		Method:   method,
		Amount:   1000,
		Currency: "RUB",
		Code:     code,
		Points:   10,
	}
}

func TestMemory_StatusTransitionsAreOneWay(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	completed := newPayment(1, model.MethodGateway, "c1")
	failed := newPayment(1, model.MethodBank, "c2")
	require.NoError(t, repo.CreatePayment(ctx, completed))
	require.NoError(t, repo.CreatePayment(ctx, failed))

	_, err := repo.Settle(ctx, completed.ID, "gw-1")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failed.ID))

	_, err = repo.Settle(ctx, completed.ID, "gw-1")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.ErrorIs(t, repo.MarkFailed(ctx, completed.ID), ErrAlreadyFinalized)

	_, err = repo.Settle(ctx, failed.ID, "bank-1")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.ErrorIs(t, repo.MarkFailed(ctx, failed.ID), ErrAlreadyFinalized)

	got, err := repo.GetPayment(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
	require.NotNil(t, got.ExternalRef)
	assert.Equal(t, "gw-1", *got.ExternalRef)

	got, err = repo.GetPayment(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, got.Status)

	balance, err := repo.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestMemory_ConcurrentSettleCreditsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	p := newPayment(7, model.MethodGateway, "race")
	require.NoError(t, repo.CreatePayment(ctx, p))

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Settle(ctx, p.ID, "ref"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	balance, err := repo.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, p.Points, balance)
}

func TestMemory_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.CreatePayment(ctx, newPayment(1, model.MethodBank, "same")))
	err := repo.CreatePayment(ctx, newPayment(2, model.MethodBank, "same"))
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestMemory_ClaimExternalRef(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	a := newPayment(1, model.MethodBlockchain, "a")
	b := newPayment(2, model.MethodBlockchain, "b")
	require.NoError(t, repo.CreatePayment(ctx, a))
	require.NoError(t, repo.CreatePayment(ctx, b))

	require.NoError(t, repo.ClaimExternalRef(ctx, a.ID, 1, "hash-1"))
	require.NoError(t, repo.ClaimExternalRef(ctx, a.ID, 1, "hash-1"), "repeated claim is idempotent")

	assert.ErrorIs(t, repo.ClaimExternalRef(ctx, a.ID, 1, "hash-2"), ErrNotClaimable)
	assert.ErrorIs(t, repo.ClaimExternalRef(ctx, b.ID, 2, "hash-1"), ErrReferenceTaken)
	assert.ErrorIs(t, repo.ClaimExternalRef(ctx, b.ID, 1, "hash-3"), ErrNotFound)

	found, err := repo.FindPending(ctx, PendingFilter{Method: model.MethodBlockchain, ExternalRef: "hash-1"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestMemory_FindPendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first := newPayment(1, model.MethodBank, "first")
	second := newPayment(1, model.MethodBank, "second")
	other := newPayment(1, model.MethodGateway, "other")
	require.NoError(t, repo.CreatePayment(ctx, first))
	require.NoError(t, repo.CreatePayment(ctx, second))
	require.NoError(t, repo.CreatePayment(ctx, other))

	found, err := repo.FindPending(ctx, PendingFilter{Method: model.MethodBank})
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	require.NoError(t, repo.MarkFailed(ctx, first.ID))

	found, err = repo.FindPending(ctx, PendingFilter{Method: model.MethodBank})
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	_, err = repo.FindPending(ctx, PendingFilter{Method: model.MethodBank, Code: "first"})
	assert.ErrorIs(t, err, ErrNotFound)
}
