package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/discount"
	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
	"github.com/mmeshcher/ledger-system/internal/validation"
)

// CreateOrder оформляет заказ: фиксирует цены, применяет промокод, резервирует
// остатки и при необходимости списывает бонусы. Все шаги выполняются в одной
// транзакции, поэтому заказ либо создаётся целиком, либо не создаётся вовсе.
func (s *Service) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (order *model.Order, err error) {
	ctx, end := s.begin(ctx, "create_order", attribute.Int64("user_id", req.UserID))
	defer end(&err)

	if err := validateOrderLines(req.Items); err != nil {
		return nil, err
	}
	if req.ApplyCredit.IsNegative() {
		return nil, fmt.Errorf("%w: credit to apply must not be negative", model.ErrInvalidAmount)
	}
	apply := model.RoundMoney(req.ApplyCredit)
	code := discount.Normalize(req.DiscountCode)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now().UTC()
		o, products, err := s.priceOrder(ctx, tx, req.UserID, req.Items)
		if err != nil {
			return err
		}
		o.CreatedAt, o.UpdatedAt = now, now

		if code != "" {
			dc, err := tx.GetDiscountCodeForUpdate(ctx, code)
			if err != nil {
				return fmt.Errorf("load discount code: %w", err)
			}
			amount, err := discount.Validate(dc, code, o.Subtotal, now)
			if err != nil {
				return err
			}
			o.Discount = &model.DiscountSnapshot{Code: dc.Code, Kind: dc.Kind, Value: dc.Value, Amount: amount}
			o.Total = o.Subtotal.Sub(amount)
			if err := tx.IncrementDiscountUsage(ctx, dc.ID); err != nil {
				return fmt.Errorf("use discount code: %w", err)
			}
		}

		lines := stockLines(o.Items)
		if err := s.inventory.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		if apply.IsPositive() {
			if apply.GreaterThan(o.Total) {
				return fmt.Errorf("%w: credit %s exceeds order total %s",
					model.ErrInvalidAmount, apply.StringFixed(2), o.Total.StringFixed(2))
			}
			o.CreditApplied = apply
		}

		id, err := tx.NextOrderID(ctx)
		if err != nil {
			return err
		}
		o.ID = id
		o.Number = validation.NewOrderNumber(now, uint64(id))
		if err := tx.CreateOrder(ctx, o); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		if apply.IsPositive() {
			cause := model.Cause{Kind: model.CauseOrderPayment, OrderID: model.Int64Ptr(o.ID)}
			if _, err := s.credit.Debit(ctx, tx, o.UserID, apply, cause); err != nil {
				return err
			}
		}

		if err := s.enqueue(ctx, tx, event{
			kind:    model.EventOrderCreated,
			userID:  model.Int64Ptr(o.UserID),
			orderID: model.Int64Ptr(o.ID),
			payload: orderCreatedPayload{
				OrderID:       o.ID,
				Number:        o.Number,
				UserID:        o.UserID,
				Items:         len(o.Items),
				Subtotal:      o.Subtotal,
				Discount:      o.Discount,
				Total:         o.Total,
				CreditApplied: o.CreditApplied,
			},
		}); err != nil {
			return err
		}

		if err := s.enqueueLowStock(ctx, tx, products, lines); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.countOrder(order.Status)
	if order.CreditApplied.IsPositive() {
		s.countCredit(model.CauseOrderPayment)
	}
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("number", order.Number),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
	)

	return order, nil
}

// priceOrder загружает товары и фиксирует цены позиций на момент оформления.
func (s *Service) priceOrder(ctx context.Context, tx repository.Tx, userID int64, lines []model.OrderLine) (*model.Order, map[int64]model.Product, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	products, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load products: %w", err)
	}

	o := &model.Order{
		UserID: userID,
		Status: model.OrderStatusPending,
		Items:  make([]model.OrderItem, 0, len(lines)),
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			return nil, nil, fmt.Errorf("%w: product %d is not available", model.ErrInvalidItem, l.ProductID)
		}
		price, bulk := p.UnitPrice(l.Quantity)
		item := model.OrderItem{
			ProductID: p.ID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			BulkPrice: bulk,
		}
		o.Items = append(o.Items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	o.Subtotal = model.RoundMoney(subtotal)
	o.Total = o.Subtotal
	return o, products, nil
}

// enqueueLowStock ставит уведомление для товаров, остаток которых после
// резервирования опустился до порога.
func (s *Service) enqueueLowStock(ctx context.Context, tx repository.Tx, before map[int64]model.Product, lines []model.StockLine) error {
	if s.lowStock <= 0 {
		return nil
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	after, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}

	for _, l := range lines {
		p, ok := after[l.ProductID]
		if !ok || p.Stock > s.lowStock || p.Stock+l.Quantity <= s.lowStock {
			continue
		}
		if err := s.enqueue(ctx, tx, event{
			kind: model.EventLowStock,
			payload: lowStockPayload{
				ProductID: p.ID,
				SKU:       before[p.ID].SKU,
				Name:      before[p.ID].Name,
				Stock:     p.Stock,
				Threshold: s.lowStock,
			},
		}); err != nil {
			return err
		}
		s.logger.Warn("low stock",
			zap.Int64("product_id", p.ID),
			zap.Int64("stock", p.Stock),
		)
	}
	return nil
}

// CancelOrder отменяет ожидающий заказ: возвращает остатки и списанные бонусы.
// Покупатель может отменить только свой заказ, администратор может отменить любой.
func (s *Service) CancelOrder(ctx context.Context, actor model.Actor, orderID int64) (order *model.Order, err error) {
	ctx, end := s.begin(ctx, "cancel_order", attribute.Int64("order_id", orderID))
	defer end(&err)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(o.UserID) {
			return repository.ErrOrderNotFound
		}

		if err := s.transitionOrder(ctx, tx, o, model.OrderStatusCancelled, actor.UserID); err != nil {
			return err
		}

		if err := s.inventory.Release(ctx, tx, stockLines(o.Items)); err != nil {
			return err
		}

		if o.CreditApplied.IsPositive() {
			cause := model.Cause{Kind: model.CauseOrderCancellation, OrderID: model.Int64Ptr(o.ID)}
			if _, err := s.credit.Credit(ctx, tx, o.UserID, o.CreditApplied, cause); err != nil {
				return err
			}
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.countOrder(order.Status)
	if order.CreditApplied.IsPositive() {
		s.countCredit(model.CauseOrderCancellation)
	}
	s.logger.Info("order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Int64("actor_id", actor.UserID),
	)

	return order, nil
}

// FulfillOrder отмечает заказ выполненным.
func (s *Service) FulfillOrder(ctx context.Context, orderID, adminID int64) (order *model.Order, err error) {
	ctx, end := s.begin(ctx, "fulfill_order", attribute.Int64("order_id", orderID))
	defer end(&err)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.transitionOrder(ctx, tx, o, model.OrderStatusFulfilled, adminID); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.countOrder(order.Status)
	s.logger.Info("order fulfilled", zap.Int64("order_id", order.ID), zap.Int64("admin_id", adminID))

	return order, nil
}

// transitionOrder меняет статус заблокированного заказа и ставит уведомление.
func (s *Service) transitionOrder(ctx context.Context, tx repository.Tx, o *model.Order, to model.OrderStatus, actorID int64) error {
	from := o.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: order is %s", model.ErrIllegalTransition, from)
	}

	now := s.now().UTC()
	if err := tx.UpdateOrderStatus(ctx, o.ID, to, now); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	o.Status = to
	o.UpdatedAt = now

	return s.enqueue(ctx, tx, event{
		kind:    model.EventOrderStatusChanged,
		userID:  model.Int64Ptr(o.UserID),
		orderID: model.Int64Ptr(o.ID),
		payload: orderStatusPayload{OrderID: o.ID, Number: o.Number, From: from, To: to, Actor: actorID},
	})
}

// GetOrder возвращает заказ, доступный пользователю.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

// GetOrderByNumber возвращает заказ по номеру. Номер с неверной контрольной
// цифрой отклоняется без обращения к хранилищу.
func (s *Service) GetOrderByNumber(ctx context.Context, actor model.Actor, number string) (*model.Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if !validation.IsValidReferenceNumber(number) {
		return nil, fmt.Errorf("%w: malformed order number %q", model.ErrInvalidInput, number)
	}

	o, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

// ListOrders возвращает заказы пользователя.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// ListAllOrders возвращает все заказы, опционально с фильтром по статусу.
func (s *Service) ListAllOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error) {
	return s.store.ListOrders(ctx, status)
}

// ValidateDiscount проверяет промокод для суммы заказа без его применения.
func (s *Service) ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountPreview, error) {
	if subtotal.IsNegative() {
		return nil, fmt.Errorf("%w: subtotal must not be negative", model.ErrInvalidAmount)
	}
	subtotal = model.RoundMoney(subtotal)

	dc, err := s.store.GetDiscountCode(ctx, discount.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("load discount code: %w", err)
	}

	amount, err := discount.Validate(dc, code, subtotal, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return &model.DiscountPreview{
		Code:     dc.Code,
		Subtotal: subtotal,
		Amount:   amount,
		Total:    subtotal.Sub(amount),
	}, nil
}

func validateOrderLines(lines []model.OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order has no items", model.ErrInvalidItem)
	}

	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("%w: product id must be positive", model.ErrInvalidItem)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for product %d", model.ErrInvalidItem, l.ProductID)
		}
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product %d", model.ErrInvalidItem, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

func stockLines(items []model.OrderItem) []model.StockLine {
	lines := make([]model.StockLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, model.StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}
