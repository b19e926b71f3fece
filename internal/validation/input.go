// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// ErrInvalidInput возвращается при некорректных входных данных.
var ErrInvalidInput = errors.New("invalid input")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Struct проверяет структуру по тегам validate.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: %s %s", ErrInvalidInput, fe.Field(), message(fe))
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be non-negative"
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}

// RequireText обрезает пробелы и проверяет, что значение не пустое.
func RequireText(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return v, nil
}

// NonNegative проверяет, что число не отрицательно.
func NonNegative(field string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrInvalidInput, field)
	}
	return nil
}

// NonNegativeCents проверяет, что сумма не отрицательна.
func NonNegativeCents(field string, c model.Cents) error {
	if c < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrInvalidInput, field)
	}
	return nil
}

// ParseWeight разбирает вес из текстового поля формы.
func ParseWeight(raw string) (float64, error) {
	d, err := parseNumber("weight", raw)
	if err != nil {
		return 0, err
	}
	w, _ := d.Float64()
	if math.IsInf(w, 0) {
		return 0, fmt.Errorf("%w: weight is out of range", ErrInvalidInput)
	}
	if err := NonNegative("weight", w); err != nil {
		return 0, err
	}
	return w, nil
}

// ParseAmount разбирает денежную сумму из текстового поля формы.
// Пустое поле означает ноль.
func ParseAmount(field, raw string) (model.Cents, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := parseNumber(field, raw)
	if err != nil {
		return 0, err
	}
	return Amount(field, d)
}

// Amount переводит десятичную сумму в центы и проверяет знак.
func Amount(field string, d decimal.Decimal) (model.Cents, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s must be non-negative", ErrInvalidInput, field)
	}
	c, err := model.CentsFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidInput, field, err)
	}
	return c, nil
}

func parseNumber(field, raw string) (decimal.Decimal, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a number", ErrInvalidInput, field)
	}
	return d, nil
}
