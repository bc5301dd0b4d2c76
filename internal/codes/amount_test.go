package codes_test

import (
	"math"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/p12sign/internal/codes"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want codes.Amount
		text string
	}{
		{"34113", 3411300, "34113.00"},
		{"34113.00", 3411300, "34113.00"},
		{"2.67", 267, "2.67"},
		{"0.1", 10, "0.10"},
		{"0.01", 1, "0.01"},
		{"-12.5", -1250, "-12.50"},
		{"+7", 700, "7.00"},
		{" 1.05 ", 105, "1.05"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := codes.ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, got.String())
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "-", ".5", "2.675", "0.125", "1,00", "1e3", "abc", "--1", "92233720368547758.08"} {
		_, err := codes.ParseAmount(in)
		assert.ErrorIs(t, err, codes.ErrInvalidReceipt, in)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.00", codes.Amount(0).String())
	assert.Equal(t, "-0.05", codes.Amount(-5).String())
	assert.Equal(t, "-92233720368547758.08", codes.Amount(math.MinInt64).String())
}

func TestAmountFlag(t *testing.T) {
	var total codes.Amount
	fs := pflag.NewFlagSet("codes", pflag.ContinueOnError)
	fs.Var(&total, "total", "")

	require.NoError(t, fs.Parse([]string{"--total", "0.30"}))
	assert.Equal(t, codes.Amount(30), total)
	assert.Error(t, fs.Parse([]string{"--total", "0.125"}))
}
