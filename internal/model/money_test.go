package model

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentsFromDecimal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Cents
	}{
		{name: "whole", input: "50", want: 5000},
		{name: "two places", input: "12.34", want: 1234},
		{name: "rounds half up", input: "0.125", want: 13},
		{name: "zero", input: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.input)
			require.NoError(t, err)

			got, err := CentsFromDecimal(d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCentsFromDecimalOutOfRange(t *testing.T) {
	for _, input := range []string{
		"100000000000000000000",
		"92233720368547758.08",
		"-92233720368547758.09",
		"1e30",
	} {
		d, err := decimal.NewFromString(input)
		require.NoError(t, err)

		_, err = CentsFromDecimal(d)
		assert.ErrorIs(t, err, ErrAmountOutOfRange, input)
	}

	d, err := decimal.NewFromString("92233720368547758.07")
	require.NoError(t, err)
	got, err := CentsFromDecimal(d)
	require.NoError(t, err)
	assert.Equal(t, Cents(math.MaxInt64), got)
}

func TestCentsString(t *testing.T) {
	assert.Equal(t, "50.00", Cents(5000).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "0.00", Cents(0).String())
}

func TestSummaryValue(t *testing.T) {
	s := Summary{
		OpenOrders:       1,
		ClosedOrders:     2,
		Deposits:         300,
		Payments:         400,
		AnimalsSold:      5,
		AnimalsAvailable: 6,
	}

	want := map[Aggregate]int64{
		AggregateOpenOrders:       1,
		AggregateClosedOrders:     2,
		AggregateDeposits:         300,
		AggregatePayments:         400,
		AggregateAnimalsSold:      5,
		AggregateAnimalsAvailable: 6,
	}
	for a, v := range want {
		assert.Equal(t, v, s.Value(a), string(a))
	}
}

func TestParseAggregate(t *testing.T) {
	a, ok := ParseAggregate("animals_sold")
	require.True(t, ok)
	assert.Equal(t, AggregateAnimalsSold, a)

	_, ok = ParseAggregate("unknown")
	assert.False(t, ok)
}
