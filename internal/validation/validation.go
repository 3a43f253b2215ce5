// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrBadAmount возвращается, если сумма не является корректным числом.
var ErrBadAmount = errors.New("malformed amount")

// ParseAmount разбирает сумму из пользовательского ввода или внешнего источника.
// Допускаются десятичная точка или запятая, пробелы-разделители разрядов и ведущий знак «+».
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", ",", ".").Replace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, ErrBadAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrBadAmount
	}
	return d, nil
}

// ToMinor переводит сумму в минимальные единицы с указанным числом знаков после запятой.
// Возвращает false, если сумма не представима без потери точности.
func ToMinor(amount decimal.Decimal, places int32) (int64, bool) {
	shifted := amount.Shift(places)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, false
	}
	if !shifted.BigInt().IsInt64() {
		return 0, false
	}
	return shifted.IntPart(), true
}

// FromMinor переводит сумму из минимальных единиц обратно в десятичное число.
func FromMinor(minor int64, places int32) decimal.Decimal {
	return decimal.New(minor, -places)
}

// IsValidTxHash проверяет идентификатор транзакции блокчейна: 64 шестнадцатеричных символа.
func IsValidTxHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, ch := range hash {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}
