package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CanonicalID normalizes an identifier to its canonical string form.
// The backend serves numeric user ids while the realtime store keys are
// always strings; comparing them without normalization makes every remote
// typing flag look foreign (or self-typing look remote). Floats that are
// whole numbers render without a fraction ("7", not "7.000000") because
// that is how the store keys them.
func CanonicalID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
