package models

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMoneyOverflow is returned when arithmetic leaves the int64 minor-unit range.
	ErrMoneyOverflow = errors.New("money: arithmetic overflow")

	// ErrMoneyPrecision is returned when an amount has more than two fractional digits.
	ErrMoneyPrecision = errors.New("money: at most two decimal places allowed")

	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// Money is a fixed-point amount stored in minor currency units (cents).
// 44.00 is stored as 4400. No floating point is involved anywhere.
type Money int64

// ParseMoney parses a decimal string such as "12", "12.5" or "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts a decimal into minor units, rejecting sub-cent precision.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(2)) {
		return 0, ErrMoneyPrecision
	}

	minor := d.Shift(2)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return 0, ErrMoneyOverflow
	}

	return Money(minor.IntPart()), nil
}

// Decimal returns the amount as a decimal in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Add returns m+o or ErrMoneyOverflow.
func (m Money) Add(o Money) (Money, error) {
	sum := m + o
	if (o > 0 && sum < m) || (o < 0 && sum > m) {
		return 0, ErrMoneyOverflow
	}
	return sum, nil
}

// Sub returns m-o or ErrMoneyOverflow.
func (m Money) Sub(o Money) (Money, error) {
	diff := m - o
	if (o > 0 && diff > m) || (o < 0 && diff < m) {
		return 0, ErrMoneyOverflow
	}
	return diff, nil
}

// MulQty multiplies a unit price by a quantity.
func (m Money) MulQty(qty int) (Money, error) {
	if m == 0 || qty == 0 {
		return 0, nil
	}

	product := int64(m) * int64(qty)
	if product/int64(qty) != int64(m) {
		return 0, ErrMoneyOverflow
	}
	return Money(product), nil
}

// MarshalJSON encodes the amount as a two-decimal string, e.g. "44.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts both "44.00" and 44.00.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("invalid amount %s: %w", raw, err)
		}
		raw = unquoted
	}

	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
