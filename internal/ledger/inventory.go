// Package ledger реализует складской журнал и журнал бонусного баланса.
// Обе операции выполняются внутри транзакции вызывающего кода: ledger только
// блокирует нужные строки, проверяет инварианты и записывает изменения.
package ledger

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// StockTx описывает операции над остатками, доступные внутри транзакции.
type StockTx interface {
	// LockStock блокирует строки товаров до конца транзакции и возвращает их остатки.
	// Отсутствующие товары в результат не попадают.
	LockStock(ctx context.Context, productIDs []int64) (map[int64]int64, error)
	// AdjustStock изменяет остаток товара на delta.
	AdjustStock(ctx context.Context, productID int64, delta int64) error
}

// Inventory: складской журнал.
type Inventory struct{}

// Reserve списывает остатки по всем позициям либо не списывает ничего.
// При нехватке возвращает *model.InsufficientStockError для первой такой позиции.
func (Inventory) Reserve(ctx context.Context, tx StockTx, items []model.StockLine) error {
	if len(items) == 0 {
		return nil
	}

	stock, err := lockLines(ctx, tx, items)
	if err != nil {
		return err
	}

	remaining := make(map[int64]int64, len(stock))
	for id, qty := range stock {
		remaining[id] = qty
	}

	for _, it := range items {
		available, ok := remaining[it.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %d not found", model.ErrInvalidItem, it.ProductID)
		}
		if available < it.Quantity {
			return &model.InsufficientStockError{
				ProductID: it.ProductID,
				Available: available,
				Requested: it.Quantity,
			}
		}
		remaining[it.ProductID] = available - it.Quantity
	}

	for _, it := range items {
		if err := tx.AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
			return fmt.Errorf("reserve product %d: %w", it.ProductID, err)
		}
	}

	return nil
}

// Release возвращает остатки по всем позициям.
func (Inventory) Release(ctx context.Context, tx StockTx, items []model.StockLine) error {
	if len(items) == 0 {
		return nil
	}

	stock, err := lockLines(ctx, tx, items)
	if err != nil {
		return err
	}

	for _, it := range items {
		current, ok := stock[it.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %d not found", model.ErrInvalidItem, it.ProductID)
		}
		if current > math.MaxInt64-it.Quantity {
			return fmt.Errorf("%w: product %d", model.ErrStockOverflow, it.ProductID)
		}
		stock[it.ProductID] = current + it.Quantity
	}

	for _, it := range items {
		if err := tx.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("release product %d: %w", it.ProductID, err)
		}
	}

	return nil
}

// lockLines проверяет количества и блокирует товары в порядке возрастания id,
// чтобы параллельные транзакции не взаимоблокировались.
func lockLines(ctx context.Context, tx StockTx, items []model.StockLine) (map[int64]int64, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %d", model.ErrInvalidItem, it.ProductID)
		}
		ids = append(ids, it.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	stock, err := tx.LockStock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	return stock, nil
}
