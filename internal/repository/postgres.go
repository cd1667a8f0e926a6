package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const maxTxRetries = 3

// querier: общее подмножество методов pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	retryBase time.Duration
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

	r := &PostgresRepository{pool: pool, retryBase: 50 * time.Millisecond}

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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции. Конфликты сериализации и взаимоблокировки
// повторяются ограниченное число раз, после чего возвращается model.ErrTransient.
func (r *PostgresRepository) InTx(ctx context.Context, fn TxFunc) error {
	return r.withRetry(ctx, false, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// withRetry повторяет fn для временных ошибок. Сетевые ошибки повторяются
// только для чтения: транзакция могла быть зафиксирована до обрыва соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(r.retryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(maxTxRetries, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isConflict(err) || (readOnly && isConnectionError(err)) {
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	return err
}

// isConflict сообщает, что транзакцию можно повторить целиком. Занятый номер
// заказа тоже считается конфликтом: повтор получит новый идентификатор.
func isConflict(err error) bool {
	if errors.Is(err, ErrOrderNumberTaken) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.LockNotAvailable
	}
	return false
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p *model.Product
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		products, err := getProducts(ctx, r.pool, []int64{id})
		if err != nil {
			return err
		}
		if prod, ok := products[id]; ok {
			p = &prod
			return nil
		}
		return ErrProductNotFound
	})
	return p, err
}

// GetDiscountCode возвращает промокод без блокировки. Для неизвестного кода возвращает nil.
func (r *PostgresRepository) GetDiscountCode(ctx context.Context, code string) (*model.DiscountCode, error) {
	var dc *model.DiscountCode
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		var err error
		dc, err = getDiscountCode(ctx, r.pool, code, false)
		return err
	})
	return dc, err
}

// GetOrder возвращает заказ вместе с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		var err error
		o, err = getOrder(ctx, r.pool, id, false)
		return err
	})
	return o, err
}

// GetOrderByNumber возвращает заказ по его номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		orders, err := queryOrders(ctx, r.pool, `WHERE number = $1`, number)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return ErrOrderNotFound
		}
		o = &orders[0]
		return nil
	})
	return o, err
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.listOrders(ctx, `WHERE user_id = $1`, userID)
}

// ListOrders возвращает все заказы, опционально отфильтрованные по статусу.
func (r *PostgresRepository) ListOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error) {
	if status == nil {
		return r.listOrders(ctx, ``)
	}
	return r.listOrders(ctx, `WHERE status = $1`, string(*status))
}

func (r *PostgresRepository) listOrders(ctx context.Context, where string, args ...any) ([]model.Order, error) {
	var orders []model.Order
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		var err error
		orders, err = queryOrders(ctx, r.pool, where, args...)
		return err
	})
	return orders, err
}

// GetReturn возвращает заявку на возврат вместе с позициями.
func (r *PostgresRepository) GetReturn(ctx context.Context, id int64) (*model.Return, error) {
	var ret *model.Return
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		var err error
		ret, err = getReturn(ctx, r.pool, id, false)
		return err
	})
	return ret, err
}

// ListReturnsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error) {
	return r.listReturns(ctx, `WHERE user_id = $1`, userID)
}

// ListReturns возвращает все заявки, опционально отфильтрованные по статусу.
func (r *PostgresRepository) ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error) {
	if status == nil {
		return r.listReturns(ctx, ``)
	}
	return r.listReturns(ctx, `WHERE status = $1`, string(*status))
}

func (r *PostgresRepository) listReturns(ctx context.Context, where string, args ...any) ([]model.Return, error) {
	var res []model.Return
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		var err error
		res, err = queryReturns(ctx, r.pool, where, args...)
		return err
	})
	return res, err
}

// GetCreditBalance возвращает текущий бонусный баланс пользователя.
func (r *PostgresRepository) GetCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var cents int64
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`SELECT balance FROM credit_balances WHERE user_id = $1`,
			userID,
		).Scan(&cents)
		if errors.Is(err, pgx.ErrNoRows) {
			cents = 0
			return nil
		}
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get credit balance: %w", err)
	}
	return model.FromCents(cents), nil
}

// ListCreditEntries возвращает журнал баланса пользователя в порядке записи.
func (r *PostgresRepository) ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error) {
	var res []model.CreditEntry
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, user_id, amount, cause_kind, order_id, return_id, admin_id, note, created_at
			 FROM credit_entries
			 WHERE user_id = $1
			 ORDER BY id`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select credit entries: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				e     model.CreditEntry
				cents int64
				kind  string
			)
			if err := rows.Scan(&e.ID, &e.UserID, &cents, &kind, &e.Cause.OrderID, &e.Cause.ReturnID,
				&e.Cause.AdminID, &e.Cause.Note, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan credit entry: %w", err)
			}
			e.Amount = model.FromCents(cents)
			e.Cause.Kind = model.CauseKind(kind)
			res = append(res, e)
		}
		return rows.Err()
	})
	return res, err
}

// PendingEvents возвращает недоставленные уведомления в порядке создания.
func (r *PostgresRepository) PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, user_id, order_id, return_id, payload, attempts, last_error, created_at
		 FROM outbox_events
		 WHERE delivered_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	defer rows.Close()

	var res []model.OutboxEvent
	for rows.Next() {
		var (
			e    model.OutboxEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.UserID, &e.OrderID, &e.ReturnID, &e.Payload,
			&e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkEventDelivered отмечает уведомление доставленным.
func (r *PostgresRepository) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET delivered_at = $2, attempts = attempts + 1, last_error = '' WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark event delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkEventFailed увеличивает счётчик попыток и сохраняет текст ошибки доставки.
func (r *PostgresRepository) MarkEventFailed(ctx context.Context, id string, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
