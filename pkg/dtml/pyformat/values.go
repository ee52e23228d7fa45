package pyformat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Str is the canonical string form of a value: nil is empty, floats use the
// shortest representation that round-trips.
func Str(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Repr quotes strings the way %r does and falls back to Str otherwise.
func Repr(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case string:
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\t", `\t`, "\r", `\r`).Replace(v) + "'"
	default:
		return Str(value)
	}
}

// toInteger converts numeric values for the integer conversions. Floats are
// truncated toward zero only when allowFloat is set.
func toInteger(value interface{}, allowFloat bool) (int64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		if allowFloat && !math.IsInf(float64(v), 0) && !math.IsNaN(float64(v)) {
			return int64(v), true
		}
	case float64:
		if allowFloat && !math.IsInf(v, 0) && !math.IsNaN(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if n, ok := toInteger(value, false); ok {
		return float64(n), true
	}
	return 0, false
}
