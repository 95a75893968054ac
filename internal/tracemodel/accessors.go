package tracemodel

import "fmt"

// The full error taxonomy lives in internal/traceerr and is used by
// higher-level packages. This package does not import it (it is
// imported by nearly everything else) so it defines its own minimal
// sentinels for the few failures GetProperty itself can raise.
type accessorError struct {
	msg string
}

func (e *accessorError) Error() string { return e.msg }

var (
	ErrBadHandle   = &accessorError{"tracemodel: null or mismatched handle"}
	ErrBadProperty = &accessorError{"tracemodel: property not valid for this variant"}
	ErrBadIndex    = &accessorError{"tracemodel: index out of range"}
)

// getter is one entry of the (variant, property) -> field dispatch
// table. A nil u64/i64/f64/str means the property does not produce that
// scalar type (ErrBadProperty); a func returning ok=false means the handle
// does not carry the needed variant or the index is out of range
// (ErrBadHandle).
type getter struct {
	u64 func(h Handle, index int) (uint64, bool)
	i64 func(h Handle, index int) (int64, bool)
	f64 func(h Handle, index int) (float64, bool)
	str func(h Handle, index int) (string, bool)
}

var dispatch = map[Property]getter{
	PropEventID: {
		u64: func(h Handle, _ int) (uint64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return uint64(h.Event.ID), true
		},
	},
	PropEventStartTs: {
		i64: func(h Handle, _ int) (int64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return h.Event.StartTs, true
		},
	},
	PropEventEndTs: {
		i64: func(h Handle, _ int) (int64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return h.Event.EndTs, true
		},
	},
	PropEventLevel: {
		i64: func(h Handle, _ int) (int64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return int64(h.Event.Level), true
		},
	},
	PropEventCategory: {
		i64: func(h Handle, _ int) (int64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return int64(h.Event.Category), true
		},
	},
	PropEventNameID: {
		u64: func(h Handle, _ int) (uint64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return uint64(h.Event.NameID), true
		},
	},
	PropEventChildCount: {
		u64: func(h Handle, _ int) (uint64, bool) {
			if h.Event == nil {
				return 0, false
			}
			return uint64(len(h.Event.ChildIDs)), true
		},
	},
	PropEventChildAt: {
		u64: func(h Handle, index int) (uint64, bool) {
			if h.Event == nil || index < 0 || index >= len(h.Event.ChildIDs) {
				return 0, false
			}
			return uint64(h.Event.ChildIDs[index]), true
		},
	},
	PropSampleID: {
		u64: func(h Handle, _ int) (uint64, bool) {
			s := sampleOf(h)
			if s == nil {
				return 0, false
			}
			return uint64(s.ID), true
		},
	},
	PropSampleTs: {
		i64: func(h Handle, _ int) (int64, bool) {
			s := sampleOf(h)
			if s == nil {
				return 0, false
			}
			return s.Ts, true
		},
	},
	PropSampleNextTs: {
		i64: func(h Handle, _ int) (int64, bool) {
			s := sampleOf(h)
			if s == nil {
				return 0, false
			}
			return s.NextTs, true
		},
	},
	PropSampleValue: {
		f64: func(h Handle, _ int) (float64, bool) {
			s := sampleOf(h)
			if s == nil {
				return 0, false
			}
			return s.Value, true
		},
	},
	PropSampleNextValue: {
		f64: func(h Handle, _ int) (float64, bool) {
			s := sampleOf(h)
			if s == nil {
				return 0, false
			}
			return s.NextValue, true
		},
	},
	PropSampleLODEndTs: {
		i64: func(h Handle, _ int) (int64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return h.SampleLOD.EndTs, true
		},
	},
	PropSampleLODMin: {
		f64: func(h Handle, _ int) (float64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return h.SampleLOD.Min, true
		},
	},
	PropSampleLODMean: {
		f64: func(h Handle, _ int) (float64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return h.SampleLOD.Mean, true
		},
	},
	PropSampleLODMedian: {
		f64: func(h Handle, _ int) (float64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return h.SampleLOD.Median, true
		},
	},
	PropSampleLODMax: {
		f64: func(h Handle, _ int) (float64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return h.SampleLOD.Max, true
		},
	},
	PropSampleLODNumChild: {
		u64: func(h Handle, _ int) (uint64, bool) {
			if h.SampleLOD == nil {
				return 0, false
			}
			return uint64(h.SampleLOD.NumChild), true
		},
	},
}

// sampleOf returns the embedded Sample for either a VariantSample or
// VariantSampleLOD handle, since SampleLOD embeds Sample.
func sampleOf(h Handle) *Sample {
	switch h.Variant {
	case VariantSample:
		return h.Sample
	case VariantSampleLOD:
		if h.SampleLOD == nil {
			return nil
		}
		return &h.SampleLOD.Sample
	default:
		return nil
	}
}

// GetPropertyAsU64/I64/F64/Str are the view layer's sole read path:
// every attribute of every domain object is reached via (handle,
// property, index).
func GetPropertyAsU64(h Handle, p Property, index int) (uint64, error) {
	g, ok := dispatch[p]
	if !ok || g.u64 == nil {
		return 0, fmt.Errorf("%w: %v", ErrBadProperty, p)
	}
	v, ok := g.u64(h, index)
	if !ok {
		return 0, ErrBadHandle
	}
	return v, nil
}

func GetPropertyAsI64(h Handle, p Property, index int) (int64, error) {
	g, ok := dispatch[p]
	if !ok || g.i64 == nil {
		return 0, fmt.Errorf("%w: %v", ErrBadProperty, p)
	}
	v, ok := g.i64(h, index)
	if !ok {
		return 0, ErrBadHandle
	}
	return v, nil
}

func GetPropertyAsF64(h Handle, p Property, index int) (float64, error) {
	g, ok := dispatch[p]
	if !ok || g.f64 == nil {
		return 0, fmt.Errorf("%w: %v", ErrBadProperty, p)
	}
	v, ok := g.f64(h, index)
	if !ok {
		return 0, ErrBadHandle
	}
	return v, nil
}

func GetPropertyAsString(h Handle, p Property, index int) (string, error) {
	g, ok := dispatch[p]
	if !ok || g.str == nil {
		return "", fmt.Errorf("%w: %v", ErrBadProperty, p)
	}
	v, ok := g.str(h, index)
	if !ok {
		return "", ErrBadHandle
	}
	return v, nil
}
