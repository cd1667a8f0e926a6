package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

var _ Tx = (*pgTx)(nil)

// pgTx реализует Tx поверх pgx.Tx. Блокировки берутся через SELECT ... FOR UPDATE
// и действуют до завершения транзакции.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockStock(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		productIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]int64, len(productIDs))
	for rows.Next() {
		var id, stock int64
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		res[id] = stock
	}
	return res, rows.Err()
}

func (t *pgTx) AdjustStock(ctx context.Context, productID int64, delta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *pgTx) SetStock(ctx context.Context, productID, quantity int64) (int64, error) {
	var previous int64
	err := t.tx.QueryRow(ctx,
		`SELECT stock FROM products WHERE id = $1 FOR UPDATE`,
		productID,
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("lock product: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return 0, fmt.Errorf("set stock: %w", err)
	}
	return previous, nil
}

func (t *pgTx) GetProducts(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	return getProducts(ctx, t.tx, ids)
}

func (t *pgTx) LockCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credit_balances (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ensure credit balance: %w", err)
	}

	var cents int64
	err = t.tx.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock credit balance: %w", err)
	}
	return model.FromCents(cents), nil
}

func (t *pgTx) AppendCreditEntry(ctx context.Context, entry *model.CreditEntry, balance decimal.Decimal) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO credit_entries (user_id, amount, cause_kind, order_id, return_id, admin_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		entry.UserID, model.Cents(entry.Amount), string(entry.Cause.Kind), entry.Cause.OrderID,
		entry.Cause.ReturnID, entry.Cause.AdminID, entry.Cause.Note, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert credit entry: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE credit_balances SET balance = $2, updated_at = $3 WHERE user_id = $1`,
		entry.UserID, model.Cents(balance), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("update credit balance: %w", err)
	}
	return nil
}

func (t *pgTx) GetDiscountCodeForUpdate(ctx context.Context, code string) (*model.DiscountCode, error) {
	return getDiscountCode(ctx, t.tx, code, true)
}

func (t *pgTx) IncrementDiscountUsage(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE discount_codes SET times_used = times_used + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	return nil
}

func (t *pgTx) NextOrderID(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('orders', 'id'))`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reserve order id: %w", err)
	}
	return id, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	var (
		code, kind *string
		value      *int64
		amount     int64
	)
	if d := o.Discount; d != nil {
		k := string(d.Kind)
		v := model.Cents(d.Value)
		code, kind, value, amount = &d.Code, &k, &v, model.Cents(d.Amount)
	}

	var id *int64
	if o.ID != 0 {
		id = &o.ID
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (id, number, user_id, status, subtotal, discount_code, discount_kind, discount_value,
		                     discount_amount, total, credit_applied, created_at, updated_at)
		 VALUES (COALESCE($1, nextval(pg_get_serial_sequence('orders', 'id'))),
		         $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 RETURNING id`,
		id, o.Number, o.UserID, string(o.Status), model.Cents(o.Subtotal), code, kind, value,
		amount, model.Cents(o.Total), model.Cents(o.CreditApplied), o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_number_key" {
			return fmt.Errorf("%w: %s", ErrOrderNumberTaken, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		err := t.tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, bulk_price)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			o.ID, i, it.ProductID, it.Quantity, model.Cents(it.UnitPrice), it.BulkPrice,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) ReturnedQuantities(ctx context.Context, orderID int64) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT ri.order_item_id, SUM(ri.quantity)
		 FROM return_items ri
		 JOIN returns r ON r.id = ri.return_id
		 WHERE r.order_id = $1 AND r.status <> $2
		 GROUP BY ri.order_item_id`,
		orderID, string(model.ReturnDenied),
	)
	if err != nil {
		return nil, fmt.Errorf("select returned quantities: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]int64)
	for rows.Next() {
		var itemID, qty int64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, fmt.Errorf("scan returned quantity: %w", err)
		}
		res[itemID] = qty
	}
	return res, rows.Err()
}

func (t *pgTx) CreateReturn(ctx context.Context, r *model.Return) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO returns (order_id, user_id, reason, status, admin_notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		r.OrderID, r.UserID, r.Reason, string(r.Status), r.AdminNotes, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert return: %w", err)
	}

	for i := range r.Items {
		it := &r.Items[i]
		err := t.tx.QueryRow(ctx,
			`INSERT INTO return_items (return_id, position, order_item_id, product_id, quantity, reason)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			r.ID, i, it.OrderItemID, it.ProductID, it.Quantity, it.Reason,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert return item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetReturnForUpdate(ctx context.Context, id int64) (*model.Return, error) {
	return getReturn(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateReturn(ctx context.Context, r *model.Return) error {
	var resolution *string
	if r.Resolution != nil {
		s := string(*r.Resolution)
		resolution = &s
	}
	var amount *int64
	if r.ResolutionAmount != nil {
		c := model.Cents(*r.ResolutionAmount)
		amount = &c
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE returns
		 SET status = $2, resolution = $3, resolution_amount = $4, admin_notes = $5, processed_by = $6,
		     processed_at = $7, refund_confirmed_at = $8, refund_confirmed_by = $9
		 WHERE id = $1`,
		r.ID, string(r.Status), resolution, amount, r.AdminNotes, r.ProcessedBy,
		r.ProcessedAt, r.RefundConfirmedAt, r.RefundConfirmedBy,
	)
	if err != nil {
		return fmt.Errorf("update return: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, e *model.OutboxEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO outbox_events (id, kind, user_id, order_id, return_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Kind), e.UserID, e.OrderID, e.ReturnID, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
