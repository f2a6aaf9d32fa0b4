package order

import "strconv"

// formatNumberID renders numeric JSON ids ("id": 77) the same way as string ids ("id": "77").
func formatNumberID(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatID is exported for callers extracting ids from other entity kinds.
func FormatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return formatNumberID(id)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}
