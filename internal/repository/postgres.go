// Package repository содержит реализацию журнала платежей и балансов.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/gophermart-payments/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	codeIndex        = "payments_code_key"
	externalRefIndex = "payments_external_ref_key"
)

var paymentColumns = []string{
	"id", "user_id", "method", "amount", "currency", "code",
	"external_ref", "points", "status", "created_at", "finalized_at",
}

// PostgresRepository предоставляет доступ к журналу платежей в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreatePayment сохраняет новый платёж в статусе pending.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (id, user_id, method, amount, currency, code, points, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		p.ID, p.UserID, string(p.Method), p.Amount, p.Currency, p.Code, p.Points, string(model.PaymentStatusPending),
	).Scan(&p.CreatedAt)
	if err != nil {
		if uniqueViolation(err, codeIndex) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	p.Status = model.PaymentStatusPending
	return nil
}

// GetPayment возвращает платёж по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query, args, err := sq.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	p, err := scanPayment(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// ListPaymentsByUser возвращает платежи пользователя, новые первыми.
func (r *PostgresRepository) ListPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	query, args, err := sq.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// FindPending возвращает самый старый платёж в статусе pending, подходящий под фильтр.
func (r *PostgresRepository) FindPending(ctx context.Context, f PendingFilter) (*model.Payment, error) {
	b := sq.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"status": string(model.PaymentStatusPending)})

	if f.ID != uuid.Nil {
		b = b.Where(sq.Eq{"id": f.ID})
	}
	if f.Method != "" {
		b = b.Where(sq.Eq{"method": string(f.Method)})
	}
	if f.Code != "" {
		b = b.Where(sq.Eq{"code": f.Code})
	}
	if f.ExternalRef != "" {
		b = b.Where(sq.Eq{"external_ref": f.ExternalRef})
	}

	query, args, err := b.OrderBy("created_at").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	p, err := scanPayment(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending payment: %w", err)
	}
	return p, nil
}

// ClaimExternalRef привязывает идентификатор внешнего перевода к платежу пользователя,
// если платёж ещё ожидает оплаты и ссылка не была задана ранее.
func (r *PostgresRepository) ClaimExternalRef(ctx context.Context, id uuid.UUID, userID int64, ref string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET external_ref = $3
		 WHERE id = $1 AND user_id = $2 AND status = $4 AND external_ref IS NULL`,
		id, userID, ref, string(model.PaymentStatusPending),
	)
	if err != nil {
		if uniqueViolation(err, externalRefIndex) {
			return ErrReferenceTaken
		}
		return fmt.Errorf("claim external ref: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := r.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return ErrNotFound
	}
	if p.ExternalRef != nil && *p.ExternalRef == ref && p.Status == model.PaymentStatusPending {
		return nil
	}
	return ErrNotClaimable
}

// Settle атомарно переводит платёж из pending в completed, сохраняет внешнюю ссылку
// и начисляет баллы. Условие status = 'pending' в UPDATE исключает повторное начисление.
func (r *PostgresRepository) Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error) {
	var res *model.Settled

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		s := model.Settled{PaymentID: id, ExternalRef: externalRef}
		var method string
		err = tx.QueryRow(ctx,
			`UPDATE payments SET status = $2, external_ref = $3, finalized_at = now()
			 WHERE id = $1 AND status = $4
			 RETURNING user_id, points, method, finalized_at`,
			id, string(model.PaymentStatusCompleted), externalRef, string(model.PaymentStatusPending),
		).Scan(&s.UserID, &s.Points, &method, &s.SettledAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.finalizedOrMissing(ctx, tx, id)
			}
			if uniqueViolation(err, externalRefIndex) {
				return ErrReferenceTaken
			}
			return fmt.Errorf("complete payment: %w", err)
		}
		s.Channel = model.Method(method)

		_, err = tx.Exec(ctx,
			`INSERT INTO balances (user_id, points) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE
			 SET points = balances.points + EXCLUDED.points, updated_at = now()`,
			s.UserID, s.Points,
		)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = &s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// MarkFailed переводит платёж из pending в failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, finalized_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(model.PaymentStatusFailed), string(model.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetPayment(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyFinalized
}

func (r *PostgresRepository) finalizedOrMissing(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("select payment status: %w", err)
	}
	return ErrAlreadyFinalized
}

// GetBalance возвращает количество баллов пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx,
		`SELECT points FROM balances WHERE user_id = $1`,
		userID,
	).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return points, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		method string
		status string
	)

	err := row.Scan(&p.ID, &p.UserID, &method, &p.Amount, &p.Currency, &p.Code,
		&p.ExternalRef, &p.Points, &status, &p.CreatedAt, &p.FinalizedAt)
	if err != nil {
		return nil, err
	}

	p.Method = model.Method(method)
	p.Status = model.PaymentStatus(status)
	return &p, nil
}
