package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// ListEvents возвращает журнал уведомлений, новые первыми.
func (r *PostgresRepository) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error) {
	sql := `SELECT id, kind, user_id, order_id, return_id, payload, attempts, last_error, created_at, delivered_at
		 FROM outbox_events`
	if filter.PendingOnly {
		sql += ` WHERE delivered_at IS NULL`
	}
	sql += ` ORDER BY created_at DESC`

	var args []any
	if filter.Limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, filter.Limit)
	}

	var res []model.OutboxEvent
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("select events: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				e    model.OutboxEvent
				kind string
			)
			if err := rows.Scan(&e.ID, &kind, &e.UserID, &e.OrderID, &e.ReturnID, &e.Payload,
				&e.Attempts, &e.LastError, &e.CreatedAt, &e.DeliveredAt); err != nil {
				return fmt.Errorf("scan event: %w", err)
			}
			e.Kind = model.EventKind(kind)
			res = append(res, e)
		}
		return rows.Err()
	})
	return res, err
}

// Stats собирает сводку по заказам, возвратам и остаткам.
func (r *PostgresRepository) Stats(ctx context.Context, lowStockThreshold int64, recent int) (*model.Stats, error) {
	var st *model.Stats
	err := r.withRetry(ctx, true, func(ctx context.Context) error {
		st = &model.Stats{
			Revenue:           decimal.Zero,
			OrdersByStatus:    make(map[model.OrderStatus]int64),
			ReturnsByStatus:   make(map[model.ReturnStatus]int64),
			LowStockThreshold: lowStockThreshold,
		}

		if err := r.countOrders(ctx, st); err != nil {
			return err
		}
		if err := r.countReturns(ctx, st); err != nil {
			return err
		}
		if err := r.lowStock(ctx, st); err != nil {
			return err
		}

		orders, err := selectOrders(ctx, r.pool,
			`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, recent)
		if err != nil {
			return err
		}
		st.RecentOrders = orders
		return nil
	})
	return st, err
}

func (r *PostgresRepository) countOrders(ctx context.Context, st *model.Stats) error {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(total), 0)::bigint
		 FROM orders
		 GROUP BY status`,
	)
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
			total  int64
		)
		if err := rows.Scan(&status, &count, &total); err != nil {
			return fmt.Errorf("scan order count: %w", err)
		}
		st.OrdersByStatus[model.OrderStatus(status)] = count
		st.TotalOrders += count
		if model.OrderStatus(status) != model.OrderStatusCancelled {
			st.Revenue = st.Revenue.Add(model.FromCents(total))
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) countReturns(ctx context.Context, st *model.Stats) error {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM returns GROUP BY status`)
	if err != nil {
		return fmt.Errorf("count returns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return fmt.Errorf("scan return count: %w", err)
		}
		st.ReturnsByStatus[model.ReturnStatus(status)] = count
	}
	return rows.Err()
}

func (r *PostgresRepository) lowStock(ctx context.Context, st *model.Stats) error {
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE active`,
	).Scan(&st.ActiveProducts); err != nil {
		return fmt.Errorf("count products: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sku, name, price, stock
		 FROM products
		 WHERE active AND stock <= $1
		 ORDER BY id`,
		st.LowStockThreshold,
	)
	if err != nil {
		return fmt.Errorf("select low stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p     model.Product
			price int64
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock); err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		p.Price = model.FromCents(price)
		p.Active = true
		st.LowStock = append(st.LowStock, p)
	}
	return rows.Err()
}
