package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrAmountOutOfRange возвращается, когда сумма не помещается в Cents.
var ErrAmountOutOfRange = errors.New("amount out of range")

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Cents хранит денежную сумму в минимальных единицах валюты.
type Cents int64

// CentsFromDecimal переводит десятичную сумму в центы с округлением до цента.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2).Round(0)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s is not representable in cents", d.String())
	}
	if shifted.GreaterThan(maxCents) || shifted.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, d.String())
	}
	return Cents(shifted.IntPart()), nil
}

// Decimal возвращает сумму в виде десятичного числа.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String форматирует сумму с двумя знаками после точки.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}
