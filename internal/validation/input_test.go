package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.Cents
		wantErr bool
	}{
		{
			name: "whole number",
			raw:  "50",
			want: 5000,
		},
		{
			name: "with cents and spaces",
			raw:  "  12.5 ",
			want: 1250,
		},
		{
			name: "zero",
			raw:  "0",
			want: 0,
		},
		{
			name:    "negative",
			raw:     "-1",
			wantErr: true,
		},
		{
			name:    "not a number",
			raw:     "12a",
			wantErr: true,
		},
		{
			name: "blank means zero",
			raw:  "   ",
			want: 0,
		},
		{
			name: "exponent",
			raw:  "1.5e2",
			want: 15000,
		},
		{
			name:    "too large",
			raw:     "100000000000000000000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount("deposit", tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("ParseAmount(%q) error = %v, want ErrInvalidInput", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseAmount(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseWeight(t *testing.T) {
	w, err := ParseWeight("12.5")
	if err != nil {
		t.Fatalf("ParseWeight error: %v", err)
	}
	if w != 12.5 {
		t.Fatalf("weight = %v, want 12.5", w)
	}

	for _, raw := range []string{"-0.1", "", "heavy", "1e400"} {
		if _, err := ParseWeight(raw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParseWeight(%q): expected ErrInvalidInput, got %v", raw, err)
		}
	}
}

func TestAmountOutOfRange(t *testing.T) {
	_, err := Amount("deposit", decimal.RequireFromString("1e30"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !errors.Is(err, model.ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange in chain, got %v", err)
	}
}

func TestAmountRejectsNegative(t *testing.T) {
	if _, err := Amount("payment", decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequireText(t *testing.T) {
	v, err := RequireText("name", "  Bella ")
	if err != nil || v != "Bella" {
		t.Fatalf("RequireText = %q, %v; want Bella, nil", v, err)
	}
	if _, err := RequireText("name", " \t"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
}

func TestStruct(t *testing.T) {
	type input struct {
		Name   string  `json:"name" validate:"required"`
		Weight float64 `json:"weight" validate:"gte=0"`
	}

	if err := Struct(input{Name: "Bella", Weight: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := Struct(input{Weight: 1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err.Error() != "invalid input: name is required" {
		t.Fatalf("error = %q", err.Error())
	}

	err = Struct(input{Name: "Bella", Weight: -1})
	if err == nil || err.Error() != "invalid input: weight must be non-negative" {
		t.Fatalf("error = %v", err)
	}
}
