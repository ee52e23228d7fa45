package dtml

import "strings"

var romanNumerals = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// toRoman converts n, between 1 and 4999, to upper-case Roman numerals.
func toRoman(n int) (string, error) {
	if n < 1 || n > 4999 {
		return "", NewException("ValueError", "number out of range (must be 1..4999)")
	}
	var b strings.Builder
	for _, r := range romanNumerals {
		for n >= r.value {
			b.WriteString(r.symbol)
			n -= r.value
		}
	}
	return b.String(), nil
}
