package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/ledger-system/internal/model"
)

const orderColumns = `id, number, user_id, status, subtotal, discount_code, discount_kind, discount_value,
	discount_amount, total, credit_applied, created_at, updated_at`

const returnColumns = `id, order_id, user_id, reason, status, resolution, resolution_amount, admin_notes,
	processed_by, created_at, processed_at, refund_confirmed_at, refund_confirmed_by`

func getProducts(ctx context.Context, q querier, ids []int64) (map[int64]model.Product, error) {
	rows, err := q.Query(ctx,
		`SELECT id, sku, name, price, bulk_price, bulk_quantity, stock, active
		 FROM products
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.Product, len(ids))
	for rows.Next() {
		var (
			p         model.Product
			price     int64
			bulkPrice *int64
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &price, &bulkPrice, &p.BulkQuantity, &p.Stock, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Price = model.FromCents(price)
		if bulkPrice != nil {
			bp := model.FromCents(*bulkPrice)
			p.BulkPrice = &bp
		}
		res[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func getDiscountCode(ctx context.Context, q querier, code string, forUpdate bool) (*model.DiscountCode, error) {
	sql := `SELECT id, code, kind, value, min_order_total, active, usage_limit, times_used, expires_at
		 FROM discount_codes
		 WHERE upper(code) = upper($1)`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var (
		dc       model.DiscountCode
		kind     string
		value    int64
		minTotal *int64
	)
	err := q.QueryRow(ctx, sql, code).Scan(&dc.ID, &dc.Code, &kind, &value, &minTotal, &dc.Active,
		&dc.UsageLimit, &dc.TimesUsed, &dc.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select discount code: %w", err)
	}

	dc.Kind = model.DiscountKind(kind)
	dc.Value = model.FromCents(value)
	if minTotal != nil {
		m := model.FromCents(*minTotal)
		dc.MinOrderTotal = &m
	}
	return &dc, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                                         model.Order
		status                                    string
		discountCode, discountKind                *string
		discountValue                             *int64
		subtotal, discountAmount, total, creditAp int64
	)
	if err := row.Scan(&o.ID, &o.Number, &o.UserID, &status, &subtotal, &discountCode, &discountKind,
		&discountValue, &discountAmount, &total, &creditAp, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.Subtotal = model.FromCents(subtotal)
	o.Total = model.FromCents(total)
	o.CreditApplied = model.FromCents(creditAp)
	if discountCode != nil {
		snap := &model.DiscountSnapshot{
			Code:   *discountCode,
			Amount: model.FromCents(discountAmount),
		}
		if discountKind != nil {
			snap.Kind = model.DiscountKind(*discountKind)
		}
		if discountValue != nil {
			snap.Value = model.FromCents(*discountValue)
		}
		o.Discount = snap
	}
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := loadOrderItems(ctx, q, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func queryOrders(ctx context.Context, q querier, where string, args ...any) ([]model.Order, error) {
	return selectOrders(ctx, q, `SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC, id DESC`, args...)
}

// selectOrders выполняет запрос по колонкам orderColumns и подгружает позиции.
func selectOrders(ctx context.Context, q querier, sql string, args ...any) ([]model.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadOrderItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func loadOrderItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT order_id, id, product_id, quantity, unit_price, bulk_price
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			it      model.OrderItem
			price   int64
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.Quantity, &price, &it.BulkPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = model.FromCents(price)
		res[orderID] = append(res[orderID], it)
	}
	return res, rows.Err()
}

func scanReturn(row pgx.Row) (*model.Return, error) {
	var (
		r          model.Return
		status     string
		resolution *string
		amount     *int64
	)
	if err := row.Scan(&r.ID, &r.OrderID, &r.UserID, &r.Reason, &status, &resolution, &amount, &r.AdminNotes,
		&r.ProcessedBy, &r.CreatedAt, &r.ProcessedAt, &r.RefundConfirmedAt, &r.RefundConfirmedBy); err != nil {
		return nil, err
	}

	r.Status = model.ReturnStatus(status)
	if resolution != nil {
		res := model.Resolution(*resolution)
		r.Resolution = &res
	}
	if amount != nil {
		a := model.FromCents(*amount)
		r.ResolutionAmount = &a
	}
	return &r, nil
}

func getReturn(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Return, error) {
	sql := `SELECT ` + returnColumns + ` FROM returns WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	r, err := scanReturn(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, fmt.Errorf("select return: %w", err)
	}

	items, err := loadReturnItems(ctx, q, []int64{r.ID})
	if err != nil {
		return nil, err
	}
	r.Items = items[r.ID]
	return r, nil
}

func queryReturns(ctx context.Context, q querier, where string, args ...any) ([]model.Return, error) {
	rows, err := q.Query(ctx, `SELECT `+returnColumns+` FROM returns `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("select returns: %w", err)
	}
	defer rows.Close()

	var (
		res []model.Return
		ids []int64
	)
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		res = append(res, *r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return res, nil
	}

	items, err := loadReturnItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Items = items[res[i].ID]
	}
	return res, nil
}

func loadReturnItems(ctx context.Context, q querier, returnIDs []int64) (map[int64][]model.ReturnItem, error) {
	rows, err := q.Query(ctx,
		`SELECT return_id, id, order_item_id, product_id, quantity, reason
		 FROM return_items
		 WHERE return_id = ANY($1)
		 ORDER BY return_id, position`,
		returnIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select return items: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.ReturnItem, len(returnIDs))
	for rows.Next() {
		var (
			returnID int64
			it       model.ReturnItem
		)
		if err := rows.Scan(&returnID, &it.ID, &it.OrderItemID, &it.ProductID, &it.Quantity, &it.Reason); err != nil {
			return nil, fmt.Errorf("scan return item: %w", err)
		}
		res[returnID] = append(res[returnID], it)
	}
	return res, rows.Err()
}
