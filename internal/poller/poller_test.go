package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/indexer"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/settlement"
)

type stubSource struct {
	transfers []indexer.Transfer
	err       error
	calls     atomic.Int32
	block     chan struct{}
}

func (s *stubSource) IncomingTransfers(ctx context.Context, address, token string, limit int) ([]indexer.Transfer, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.transfers, s.err
}

func transfer(id string, amount string) indexer.Transfer {
	return indexer.Transfer{
		ID:       id,
		Token:    "TToken",
		Symbol:   "USDT",
		Value:    decimal.RequireFromString(amount).Shift(6),
		Decimals: 6,
	}
}

type fixture struct {
	repo   *repository.MemoryRepository
	source *stubSource
	poller *Poller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := repository.NewMemoryRepository()
	source := &stubSource{}
	settler := settlement.NewSettler(zap.NewNop(), repo, nil, nil)
	p := New(zap.NewNop(), source, repo, settler, Options{
		Address:  "TAddress",
		Token:    "TToken",
		Decimals: 6,
		Limit:    50,
		Interval: 10 * time.Millisecond,
	})
	return &fixture{repo: repo, source: source, poller: p}
}

func (f *fixture) claimedPayment(t *testing.T, userID int64, amount int64, points int64, hash string) *model.Payment {
	t.Helper()

	ctx := context.Background()
	p := &model.Payment{
		ID:       uuid.New(),
		UserID:   userID,
		Method:   model.MethodBlockchain,
		Amount:   amount,
		Currency: "USDT",
		Code:     uuid.NewString(),
		Points:   points,
	}
	require.NoError(t, f.repo.CreatePayment(ctx, p))
	require.NoError(t, f.repo.ClaimExternalRef(ctx, p.ID, userID, hash))
	return p
}

func TestRunCycle_SettlesMatchedTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.claimedPayment(t, 1, 10_000_000, 1000, "hash-1")
	f.source.transfers = []indexer.Transfer{transfer("unrelated", "5"), transfer("hash-1", "10")}

	require.NoError(t, f.poller.RunCycle(ctx))

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)

	balance, err := f.repo.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestRunCycle_TransferOfCompletedPaymentIsNotCreditedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.claimedPayment(t, 2, 10_000_000, 1000, "hash-2")
	f.source.transfers = []indexer.Transfer{transfer("hash-2", "10")}

	require.NoError(t, f.poller.RunCycle(ctx))
	require.NoError(t, f.poller.RunCycle(ctx))
	require.NoError(t, f.poller.RunCycle(ctx))

	balance, err := f.repo.GetBalance(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestRunCycle_UnderpaidTransferStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.claimedPayment(t, 3, 10_000_000, 1000, "hash-3")
	f.source.transfers = []indexer.Transfer{transfer("hash-3", "9.99")}

	require.NoError(t, f.poller.RunCycle(ctx))

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, got.Status)
}

func TestRunCycle_TransferOlderThanPaymentIsNotCredited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.claimedPayment(t, 7, 1_000_000, 100, "hash-7")

	stale := transfer("hash-7", "1")
	stale.Timestamp = p.CreatedAt.Add(-time.Hour)
	f.source.transfers = []indexer.Transfer{stale}

	require.NoError(t, f.poller.RunCycle(ctx))

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, got.Status)

	fresh := transfer("hash-7", "1")
	fresh.Timestamp = got.CreatedAt.Add(time.Minute)
	f.source.transfers = []indexer.Transfer{fresh}

	require.NoError(t, f.poller.RunCycle(ctx))

	got, err = f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
}

func TestRunCycle_IndexerErrorAbortsOnlyThisCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.claimedPayment(t, 4, 1_000_000, 100, "hash-4")
	f.source.err = errors.New("connection reset by peer")

	require.Error(t, f.poller.RunCycle(ctx))

	f.source.err = nil
	f.source.transfers = []indexer.Transfer{transfer("hash-4", "1")}
	require.NoError(t, f.poller.RunCycle(ctx))

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
}

func TestRunCycle_DoesNotOverlap(t *testing.T) {
	f := newFixture(t)
	f.source.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.poller.RunCycle(ctx) }()

	require.Eventually(t, func() bool { return f.source.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.poller.RunCycle(ctx), ErrCycleInProgress)

	close(f.source.block)
	require.NoError(t, <-done)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	f.poller.Start(context.Background())
	f.poller.Start(context.Background())

	require.Eventually(t, func() bool { return f.source.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	f.poller.Stop()
	calls := f.source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.source.calls.Load(), "no cycles after Stop")
}
