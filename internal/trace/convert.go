package trace

// toU64/toI64/toF64 coerce the any-typed row values pgx returns into the
// fixed-width forms this package's row scanners need, mirroring
// internal/sidechannel's identical (unexported, package-private) helpers.
func toU64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int32:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

func toI64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toF64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
