package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// CreditTx описывает операции над бонусным балансом внутри транзакции.
type CreditTx interface {
	// LockCreditBalance блокирует баланс пользователя, создавая нулевой при отсутствии.
	LockCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// AppendCreditEntry добавляет запись журнала и сохраняет новый баланс.
	AppendCreditEntry(ctx context.Context, entry *model.CreditEntry, balance decimal.Decimal) error
}

// Credit: журнал бонусного баланса. Каждое изменение баланса сопровождается
// неизменяемой записью, поэтому баланс всегда равен сумме записей.
type Credit struct {
	now func() time.Time
}

// NewCredit создаёт журнал баланса.
func NewCredit() *Credit {
	return &Credit{now: time.Now}
}

// Credit начисляет amount на баланс пользователя.
func (c *Credit) Credit(ctx context.Context, tx CreditTx, userID int64, amount decimal.Decimal, cause model.Cause) (*model.CreditEntry, error) {
	amount = model.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit must be positive", model.ErrInvalidAmount)
	}

	balance, err := tx.LockCreditBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock credit balance: %w", err)
	}

	return c.append(ctx, tx, userID, amount, balance.Add(amount), cause)
}

// Debit списывает amount с баланса, если средств достаточно.
func (c *Credit) Debit(ctx context.Context, tx CreditTx, userID int64, amount decimal.Decimal, cause model.Cause) (*model.CreditEntry, error) {
	amount = model.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: debit must be positive", model.ErrInvalidAmount)
	}

	balance, err := tx.LockCreditBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock credit balance: %w", err)
	}

	if balance.LessThan(amount) {
		return nil, &model.InsufficientCreditError{Available: balance, Requested: amount}
	}

	return c.append(ctx, tx, userID, amount.Neg(), balance.Sub(amount), cause)
}

func (c *Credit) append(ctx context.Context, tx CreditTx, userID int64, amount, balance decimal.Decimal, cause model.Cause) (*model.CreditEntry, error) {
	entry := &model.CreditEntry{
		UserID:    userID,
		Amount:    amount,
		Cause:     cause,
		CreatedAt: c.now().UTC(),
	}
	if err := tx.AppendCreditEntry(ctx, entry, balance); err != nil {
		return nil, fmt.Errorf("append credit entry: %w", err)
	}
	return entry, nil
}
