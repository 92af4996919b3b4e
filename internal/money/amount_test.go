package money

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"":                        0,
		"abc":                     0,
		"0":                       0,
		"1000":                    1000,
		"1.000":                   1000,
		"1,234,567":               1234567,
		"$ 12 500":                12500,
		"-300":                    300,
		"007":                     7,
		"99999999999999999999999": 0,
		"9223372036854775807":     9223372036854775807,
		"9223372036854775808":     0,
	}
	for input, want := range cases {
		require.Equal(t, want, ParseAmount(input), "input %q", input)
	}
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0", FormatAmount(0))
	require.Equal(t, "999", FormatAmount(999))
	require.Equal(t, "1,000", FormatAmount(1000))
	require.Equal(t, "1,234,567", FormatAmount(1234567))
}

func TestAmountRoundTrip(t *testing.T) {
	samples := []string{"", "12", "1.500", "2,000,000", "abc123def456", "9223372036854775807"}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		samples = append(samples, strconv.FormatInt(rng.Int63n(1_000_000_000_000), 10))
	}
	for _, s := range samples {
		units := ParseAmount(s)
		require.Equal(t, units, ParseAmount(FormatAmount(units)), "input %q", s)
	}
}

func TestParseAmountMoney(t *testing.T) {
	require.True(t, ParseAmountMoney("1.200").Equal(FromUnits(1200)))
	require.True(t, ParseAmountMoney("").IsZero())
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "1,234.50", FormatMoney(MustParse("1234.5")))
	require.Equal(t, "-200.00", FormatMoney(FromUnits(-200)))
	require.Equal(t, "0.00", FormatMoney(Zero()))
}
