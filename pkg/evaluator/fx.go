package evaluator

import "strings"

// FixedRateConverter converts currencies using a daily-rate table
// loaded once at startup; it never calls out to a live FX feed. Rates
// are expressed as "units of `to` per one unit of `from`".
type FixedRateConverter struct {
	rates map[string]float64 // key: "FROM/TO"
}

// NewFixedRateConverter builds a FixedRateConverter from rates keyed
// "FROM/TO" (e.g. "EUR/USD": 1.08). The identity conversion for any
// currency to itself is always available and needs no entry.
func NewFixedRateConverter(rates map[string]float64) *FixedRateConverter {
	table := make(map[string]float64, len(rates))
	for k, v := range rates {
		table[strings.ToUpper(k)] = v
	}
	return &FixedRateConverter{rates: table}
}

// Convert converts amount from currency "from" to currency "to".
// Returns ErrRateMissing if from != to and no rate is on file for the
// pair (in either direction).
func (c *FixedRateConverter) Convert(amount float64, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	if rate, ok := c.rates[from+"/"+to]; ok {
		return amount * rate, nil
	}
	if rate, ok := c.rates[to+"/"+from]; ok && rate != 0 {
		return amount / rate, nil
	}

	return 0, ErrRateMissing
}
