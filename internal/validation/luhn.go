// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// OrderNumberPrefix: префикс номеров заказов.
const OrderNumberPrefix = "RO"

const serialDigits = 10

// IsValidOrderNumber проверяет корректность последовательности цифр по алгоритму Луна.
func IsValidOrderNumber(number string) bool {
	if number == "" {
		return false
	}

	sum, ok := luhnSum(number, false)
	return ok && sum%10 == 0
}

// CheckDigit вычисляет контрольную цифру Луна для последовательности цифр.
func CheckDigit(digits string) (int, error) {
	if digits == "" {
		return 0, fmt.Errorf("empty digits")
	}
	sum, ok := luhnSum(digits, true)
	if !ok {
		return 0, fmt.Errorf("non-digit character in %q", digits)
	}
	return (10 - sum%10) % 10, nil
}

// luhnSum считает сумму Луна справа налево. Если doubleFirst, удваивается
// самая правая цифра: так считается сумма для ещё не дописанной контрольной цифры.
func luhnSum(number string, doubleFirst bool) (int, bool) {
	sum := 0
	double := doubleFirst

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return 0, false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum, true
}

// NewOrderNumber формирует номер заказа вида RO-YYYYMMDD-NNNNNNNNNNC.
// Последняя цифра C контрольная: сумма Луна по дате и серийной части.
func NewOrderNumber(at time.Time, serial uint64) string {
	date := at.UTC().Format("20060102")
	digits := fmt.Sprintf("%0*d", serialDigits, serial%pow10(serialDigits))
	check, _ := CheckDigit(date + digits)
	return fmt.Sprintf("%s-%s-%s%d", OrderNumberPrefix, date, digits, check)
}

// IsValidReferenceNumber проверяет номер заказа, сформированный NewOrderNumber.
func IsValidReferenceNumber(number string) bool {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != OrderNumberPrefix {
		return false
	}
	if _, err := time.Parse("20060102", parts[1]); err != nil {
		return false
	}
	if len(parts[2]) != serialDigits+1 {
		return false
	}
	return IsValidOrderNumber(parts[1] + parts[2])
}

func pow10(n int) uint64 {
	p := uint64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
