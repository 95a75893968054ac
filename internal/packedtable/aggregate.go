package packedtable

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Command is one aggregation clause's verb.
type Command int

const (
	CmdGroup Command = iota
	CmdCount
	CmdAvg
	CmdMin
	CmdMax
	CmdSum
)

// Clause is one parsed element of an aggregation spec: a command plus
// (for everything but Count) the column it operates on.
type Clause struct {
	Command Command
	Column  querybuilder.SchemaIndex
}

// columnAccum is one worker-private column accumulator for a single
// group value.
type columnAccum struct {
	count int64
	sum   float64
	min   float64
	max   float64
	set   bool
}

func (a *columnAccum) add(v float64) {
	if !a.set {
		a.min, a.max = v, v
		a.set = true
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.count++
	a.sum += v
}

// groupAccum is one worker's private group_value -> accumulator entry.
type groupAccum struct {
	groupValue  uint64 // raw cell value (often an interner.ID) for the Group clause's column
	groupName   string // resolved display name, filled in at Finalize
	count       int64
	columns     map[querybuilder.SchemaIndex]*columnAccum
}

// Aggregator is the Setup/AggregateRow/Finalize pipeline: exactly one
// Group clause (placed first) plus any number of Count/Avg/Min/Max/Sum
// clauses, each worker keeping a private map merged at Finalize.
type Aggregator struct {
	table   *Table
	clauses []Clause
	groupOn querybuilder.SchemaIndex
	workers []map[uint64]*groupAccum
}

// Setup parses spec into an Aggregator bound to table, validating that
// spec's first clause is Group and allocating nThreads private
// accumulator maps.
func Setup(table *Table, spec []Clause, nThreads int) (*Aggregator, error) {
	if len(spec) == 0 || spec[0].Command != CmdGroup {
		return nil, traceerr.New(traceerr.KindInvalidParameter, "aggregation spec must start with a Group clause")
	}
	if nThreads <= 0 {
		nThreads = 1
	}
	workers := make([]map[uint64]*groupAccum, nThreads)
	for i := range workers {
		workers[i] = make(map[uint64]*groupAccum)
	}
	return &Aggregator{
		table:   table,
		clauses: spec,
		groupOn: spec[0].Column,
		workers: workers,
	}, nil
}

// AggregateRow folds row into worker workerIdx's private accumulator map.
func (a *Aggregator) AggregateRow(row Row, workerIdx int) {
	if workerIdx < 0 || workerIdx >= len(a.workers) {
		workerIdx = 0
	}
	groupVal, ok := a.table.Get(row, a.groupOn)
	if !ok {
		return
	}

	m := a.workers[workerIdx]
	acc, exists := m[groupVal]
	if !exists {
		acc = &groupAccum{groupValue: groupVal, columns: make(map[querybuilder.SchemaIndex]*columnAccum)}
		m[groupVal] = acc
	}
	acc.count++

	// Several clauses may name the same column (Sum, Avg, Min, Max of
	// duration); its accumulator takes each row's value only once.
	added := make(map[querybuilder.SchemaIndex]bool, len(a.clauses))
	for _, c := range a.clauses[1:] {
		if c.Command == CmdCount || added[c.Column] {
			continue
		}
		added[c.Column] = true
		var v float64
		if querybuilder.Schema[c.Column].Storage == querybuilder.TypeDouble {
			f, ok := a.table.GetFloat(row, c.Column)
			if !ok {
				continue
			}
			v = f
		} else {
			u, ok := a.table.Get(row, c.Column)
			if !ok {
				continue
			}
			v = float64(u)
		}
		ca, ok := acc.columns[c.Column]
		if !ok {
			ca = &columnAccum{}
			acc.columns[c.Column] = ca
		}
		ca.add(v)
	}
}

// AggResult is one finalized group's row.
type AggResult struct {
	GroupValue uint64
	GroupName  string
	Count      int64
	Sum        map[querybuilder.SchemaIndex]float64
	Avg        map[querybuilder.SchemaIndex]float64
	Min        map[querybuilder.SchemaIndex]float64
	Max        map[querybuilder.SchemaIndex]float64
}

// Finalize merges every worker's private map into one result vector
// ordered by ascending group value: Count/Sum add, Min/Max take the
// extreme, and Avg recombines as a mean weighted by count (the workers'
// partial sums and counts are added, then weightedMean divides them,
// rather than re-summing raw values).
func (a *Aggregator) Finalize(in *interner.Interner) []AggResult {
	merged := make(map[uint64]*groupAccum)
	for _, wm := range a.workers {
		for gv, acc := range wm {
			m, ok := merged[gv]
			if !ok {
				merged[gv] = acc
				continue
			}
			m.count += acc.count
			for col, ca := range acc.columns {
				mca, ok := m.columns[col]
				if !ok {
					m.columns[col] = ca
					continue
				}
				combineColumn(mca, ca)
			}
		}
	}

	out := make([]AggResult, 0, len(merged))
	for gv, acc := range merged {
		r := AggResult{
			GroupValue: gv,
			Count:      acc.count,
			Sum:        map[querybuilder.SchemaIndex]float64{},
			Avg:        map[querybuilder.SchemaIndex]float64{},
			Min:        map[querybuilder.SchemaIndex]float64{},
			Max:        map[querybuilder.SchemaIndex]float64{},
		}
		if in != nil {
			r.GroupName, _ = in.Resolve(interner.ID(gv))
		}
		for _, c := range a.clauses[1:] {
			ca, ok := acc.columns[c.Column]
			if !ok {
				continue
			}
			switch c.Command {
			case CmdSum:
				r.Sum[c.Column] = ca.sum
			case CmdAvg:
				r.Avg[c.Column] = weightedMean(ca)
			case CmdMin:
				r.Min[c.Column] = ca.min
			case CmdMax:
				r.Max[c.Column] = ca.max
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupValue < out[j].GroupValue })
	return out
}

// combineColumn merges b's partial accumulation into a (Sum: a+=b,
// Min/Max: extreme; the merged sums/counts feed weightedMean at
// Finalize).
func combineColumn(a, b *columnAccum) {
	a.sum += b.sum
	a.count += b.count
	if !a.set {
		a.min, a.max, a.set = b.min, b.max, true
	} else if b.set {
		if b.min < a.min {
			a.min = b.min
		}
		if b.max > a.max {
			a.max = b.max
		}
	}
}

// weightedMean recomputes the combined mean as a single weighted
// observation via gonum/stat.Mean, so combining never re-reads raw row
// values.
func weightedMean(ca *columnAccum) float64 {
	if ca.count == 0 {
		return 0
	}
	return stat.Mean([]float64{ca.sum / float64(ca.count)}, []float64{float64(ca.count)})
}

// SortAggregationBy orders results by col's value, lexicographically
// (by GroupName) when byName is true, or numerically over the named
// aggregate otherwise.
func SortAggregationBy(results []AggResult, byName bool, col querybuilder.SchemaIndex, cmd Command, ascending bool) {
	sort.SliceStable(results, func(i, j int) bool {
		if byName {
			if ascending {
				return results[i].GroupName < results[j].GroupName
			}
			return results[i].GroupName > results[j].GroupName
		}
		vi := numericValue(results[i], col, cmd)
		vj := numericValue(results[j], col, cmd)
		if ascending {
			return vi < vj
		}
		return vi > vj
	})
}

func numericValue(r AggResult, col querybuilder.SchemaIndex, cmd Command) float64 {
	switch cmd {
	case CmdCount:
		return float64(r.Count)
	case CmdSum:
		return r.Sum[col]
	case CmdAvg:
		return r.Avg[col]
	case CmdMin:
		return r.Min[col]
	case CmdMax:
		return r.Max[col]
	default:
		return 0
	}
}
