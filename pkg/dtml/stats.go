package dtml

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

var statisticNames = []string{
	"total", "count", "min", "max", "median", "mean", "variance",
	"variance-n", "standard-deviation", "standard-deviation-n",
}

func isStatistic(prefix string) bool {
	for _, name := range statisticNames {
		if prefix == name {
			return true
		}
	}
	return false
}

// statistic computes every statistic over the name field of the items,
// stores them as NAME-field variables and returns the one requested by key.
// Statistics that do not apply are empty strings.
func (c *Cursor) statistic(name, key string) (any, bool, error) {
	for k, v := range summarize(c.fieldValues(name)) {
		c.data[k+"-"+name] = v
	}
	v, ok := c.data[key]
	return v, ok, nil
}

// fieldValues collects the name field of every item, skipping items that do
// not have it. The field "item" falls back to the item itself.
func (c *Cursor) fieldValues(name string) []any {
	var values []any
	for _, item := range c.items {
		if p, ok := item.(Pair); ok {
			item = p.Value
		}
		var v any
		var err error
		if c.mapping {
			v, err = c.access.GetItem(item, name)
		} else {
			v, err = c.getter.GetAttr(item, name)
			if err != nil && name == "item" {
				v, err = item, nil
			}
		}
		if err != nil || v == nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// summarize computes the statistics of values. Numbers take part in the
// numeric statistics; other values only count when there are no numbers.
func summarize(values []any) map[string]any {
	stats := make(map[string]any, len(statisticNames))
	for _, name := range statisticNames {
		stats[name] = ""
	}

	var numbers, others []any
	for _, v := range values {
		if _, ok := v.(bool); !ok && isNumber(v) {
			numbers = append(numbers, v)
		} else {
			others = append(others, v)
		}
	}

	if len(numbers) > 0 {
		var total any = 0
		var sum, sumsq float64
		for _, v := range numbers {
			total, _ = EvaluateBinaryOperation(total, "+", v)
			f, _ := toFloat64(v)
			sum += f
			sumsq += f * f
		}
		n := float64(len(numbers))
		mean := sum / n
		variance := sumsq/n - mean*mean
		stats["total"] = total
		stats["mean"] = mean
		stats["variance-n"] = variance
		stats["standard-deviation-n"] = math.Sqrt(variance)
		if len(numbers) > 1 {
			variance = variance * n / (n - 1)
			stats["variance"] = variance
			stats["standard-deviation"] = math.Sqrt(variance)
		}
	} else {
		numbers = others
	}

	count := len(numbers)
	stats["count"] = count
	if count == 0 {
		return stats
	}

	sorted := append([]any(nil), numbers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sortCompare(sorted[i], sorted[j]) < 0 })
	stats["min"] = sorted[0]
	stats["max"] = sorted[count-1]
	stats["median"] = median(sorted)
	return stats
}

// median of sorted values. An even count of numbers floor-divides the sum of
// the middle pair; an even count of other values is described as a range.
func median(sorted []any) any {
	count := len(sorted)
	if count%2 != 0 {
		return sorted[count/2]
	}
	hi, lo := sorted[count/2], sorted[count/2-1]
	if sum, err := EvaluateBinaryOperation(hi, "+", lo); err == nil {
		if m, err := EvaluateBinaryOperation(sum, "//", 2); err == nil {
			return m
		}
	}
	return fmt.Sprintf("between %s and %s", stringOf(hi), stringOf(lo))
}

// sortCompare orders values for sorting: nil sorts first, then values
// compare naturally, falling back to their string forms.
func sortCompare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, err := compareValues(a, b); err == nil {
		return c
	}
	return strings.Compare(stringOf(a), stringOf(b))
}
