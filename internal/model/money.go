package model

import "github.com/shopspring/decimal"

// Суммы хранятся в БД в копейках (центах).

// FromCents переводит сумму в копейках в decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cents переводит сумму в копейки с округлением до двух знаков.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// RoundMoney округляет сумму до копеек.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
