package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

// AdjustCredit вручную изменяет бонусный баланс пользователя. Положительная
// сумма начисляется, отрицательная списывается при достаточном балансе.
func (s *Service) AdjustCredit(ctx context.Context, userID, adminID int64, amount decimal.Decimal, note string) (balance *model.CreditBalance, err error) {
	ctx, end := s.begin(ctx, "adjust_credit", attribute.Int64("user_id", userID))
	defer end(&err)

	amount = model.RoundMoney(amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: adjustment must not be zero", model.ErrInvalidAmount)
	}
	note = strings.TrimSpace(note)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cause := model.Cause{
			Kind:    model.CauseManualAdjustment,
			AdminID: model.Int64Ptr(adminID),
			Note:    note,
		}

		var err error
		if amount.IsPositive() {
			_, err = s.credit.Credit(ctx, tx, userID, amount, cause)
		} else {
			_, err = s.credit.Debit(ctx, tx, userID, amount.Neg(), cause)
		}
		if err != nil {
			return err
		}

		current, err := tx.LockCreditBalance(ctx, userID)
		if err != nil {
			return fmt.Errorf("read credit balance: %w", err)
		}

		if err := s.enqueue(ctx, tx, event{
			kind:   model.EventCreditAdjusted,
			userID: model.Int64Ptr(userID),
			payload: creditAdjustedPayload{
				UserID:  userID,
				Amount:  amount,
				Balance: current,
				AdminID: adminID,
				Note:    note,
			},
		}); err != nil {
			return err
		}

		balance = &model.CreditBalance{UserID: userID, Balance: current}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.countCredit(model.CauseManualAdjustment)
	s.logger.Info("credit adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("admin_id", adminID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return balance, nil
}

// GetCreditBalance возвращает бонусный баланс пользователя.
func (s *Service) GetCreditBalance(ctx context.Context, userID int64) (*model.CreditBalance, error) {
	b, err := s.store.GetCreditBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.CreditBalance{UserID: userID, Balance: b}, nil
}

// ListCreditEntries возвращает журнал бонусного баланса пользователя.
func (s *Service) ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error) {
	return s.store.ListCreditEntries(ctx, userID)
}

// CorrectStock устанавливает остаток товара после инвентаризации. Операция
// идёт в обход складского журнала, поэтому всегда пишется в лог и в outbox.
func (s *Service) CorrectStock(ctx context.Context, productID, adminID, quantity int64) (product *model.Product, err error) {
	ctx, end := s.begin(ctx, "correct_stock", attribute.Int64("product_id", productID))
	defer end(&err)

	if quantity < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", model.ErrInvalidInput)
	}

	var previous int64
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		previous, err = tx.SetStock(ctx, productID, quantity)
		if err != nil {
			return err
		}

		return s.enqueue(ctx, tx, event{
			kind: model.EventStockCorrected,
			payload: stockCorrectedPayload{
				ProductID: productID,
				Previous:  previous,
				Current:   quantity,
				AdminID:   adminID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.logger.Warn("stock corrected",
		zap.Int64("product_id", productID),
		zap.Int64("admin_id", adminID),
		zap.Int64("previous", previous),
		zap.Int64("current", quantity),
	)

	return s.store.GetProduct(ctx, productID)
}

// CorrectStockBulk устанавливает остатки нескольких товаров в одной транзакции.
// Неизвестный товар отменяет всю корректировку.
func (s *Service) CorrectStockBulk(ctx context.Context, adminID int64, updates []model.StockUpdate) (products []model.Product, err error) {
	ctx, end := s.begin(ctx, "correct_stock_bulk", attribute.Int("products", len(updates)))
	defer end(&err)

	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no stock updates", model.ErrInvalidInput)
	}
	ids := make([]int64, 0, len(updates))
	seen := make(map[int64]bool, len(updates))
	for _, u := range updates {
		if u.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id must be positive", model.ErrInvalidInput)
		}
		if u.Stock < 0 {
			return nil, fmt.Errorf("%w: product %d: stock must not be negative", model.ErrInvalidInput, u.ProductID)
		}
		if seen[u.ProductID] {
			return nil, fmt.Errorf("%w: product %d listed twice", model.ErrInvalidInput, u.ProductID)
		}
		seen[u.ProductID] = true
		ids = append(ids, u.ProductID)
	}
	slices.Sort(ids)
	updates = slices.Clone(updates)
	slices.SortFunc(updates, func(a, b model.StockUpdate) int { return cmp.Compare(a.ProductID, b.ProductID) })

	previous := make(map[int64]int64, len(updates))
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockStock(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := locked[id]; !ok {
				return fmt.Errorf("%w: %d", repository.ErrProductNotFound, id)
			}
		}

		for _, u := range updates {
			prev, err := tx.SetStock(ctx, u.ProductID, u.Stock)
			if err != nil {
				return err
			}
			previous[u.ProductID] = prev

			if err := s.enqueue(ctx, tx, event{
				kind: model.EventStockCorrected,
				payload: stockCorrectedPayload{
					ProductID: u.ProductID,
					Previous:  prev,
					Current:   u.Stock,
					AdminID:   adminID,
				},
			}); err != nil {
				return err
			}
		}

		current, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}
		products = products[:0]
		for _, id := range ids {
			products = append(products, current[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	for _, u := range updates {
		s.logger.Warn("stock corrected",
			zap.Int64("product_id", u.ProductID),
			zap.Int64("admin_id", adminID),
			zap.Int64("previous", previous[u.ProductID]),
			zap.Int64("current", u.Stock),
		)
	}

	return products, nil
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	recentOrders      = 10
)

// ListNotifications возвращает журнал уведомлений с попытками доставки и последней ошибкой.
func (s *Service) ListNotifications(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", model.ErrInvalidInput)
	}
	if filter.Limit == 0 {
		filter.Limit = defaultEventLimit
	}
	filter.Limit = min(filter.Limit, maxEventLimit)
	return s.store.ListEvents(ctx, filter)
}

// Stats возвращает сводку по заказам, возвратам и товарам с низким остатком.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return s.store.Stats(ctx, s.lowStock, recentOrders)
}
