// Package discount проверяет промокоды и рассчитывает сумму скидки.
package discount

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Normalize приводит введённый пользователем промокод к виду, в котором он хранится.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет промокод для заказа на сумму subtotal и возвращает размер скидки.
// Правила проверяются по порядку, возвращается первая ошибка.
func Validate(code *model.DiscountCode, requested string, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if code == nil {
		return decimal.Zero, model.ErrDiscountNotFound
	}
	if !code.Active {
		return decimal.Zero, model.ErrDiscountInactive
	}
	if !strings.EqualFold(code.Code, strings.TrimSpace(requested)) {
		return decimal.Zero, model.ErrDiscountNotFound
	}
	if code.ExpiresAt != nil && !now.Before(*code.ExpiresAt) {
		return decimal.Zero, model.ErrDiscountExpired
	}
	if code.UsageLimit != nil && code.TimesUsed >= *code.UsageLimit {
		return decimal.Zero, model.ErrDiscountExhausted
	}
	if code.MinOrderTotal != nil && subtotal.LessThan(*code.MinOrderTotal) {
		return decimal.Zero, &model.BelowMinimumError{
			Minimum:   *code.MinOrderTotal,
			Subtotal:  subtotal,
			Shortfall: code.MinOrderTotal.Sub(subtotal),
		}
	}

	var amount decimal.Decimal
	switch code.Kind {
	case model.DiscountPercent:
		amount = subtotal.Mul(code.Value).Div(hundred)
	case model.DiscountFixed:
		amount = decimal.Min(code.Value, subtotal)
	default:
		return decimal.Zero, model.ErrDiscountInactive
	}

	amount = model.RoundMoney(amount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount, nil
}
