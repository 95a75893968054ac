package trace

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/flowscan-clone/traceviewer-engine/internal/jobs"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
	"github.com/flowscan-clone/traceviewer-engine/internal/storeadapter"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/track"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// defaultBaseSegmentDuration/defaultMaxSegmentDuration bound the LOD-0 segment width a
// freshly discovered Graph partitions its timeline into; coarse defaults
// in lieu of a per-trace tuning knob.
const (
	defaultBaseSegmentDuration = int64(1_000_000)     // 1ms in ns
	defaultMaxSegmentDuration  = int64(60_000_000_000) // 60s in ns
)

// ReadMetadataAsync runs the idempotent metadata-load sequence as a
// background job: create indexes; then, per category, persist the event
// level table (Region/KernelDispatch only), discover its tracks and
// stream their LOD-0 slice, interning names and counting levels; then
// persist the level histogram and mark metadata loaded. Flow records are
// not loaded here; ReadEventPropertyAsync loads them per event. Calling
// this again after MetadataLoaded() is true is a cheap no-op.
func (t *Trace) ReadMetadataAsync(ctx context.Context, onProg jobs.ProgressFunc) *jobs.Future {
	return t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		if t.metadataLoaded.Load() {
			fut.ReportProgress("", 100, "metadata already loaded")
			return nil
		}

		store, nodeID, err := t.storeOrErr()
		if err != nil {
			return err
		}

		log.Printf("[trace] reading metadata for node %s (%d categories)", nodeID, len(t.categories))

		if err := t.createIndexes(fut.Context(), store, nodeID); err != nil {
			return err
		}

		histogram := make(map[int32]int64)
		for i, cfg := range t.categories {
			fut.ReportProgress("", 10+80*i/max(len(t.categories), 1), fmt.Sprintf("discovering %s tracks", cfg.Category))
			if needsLevelPrecompute(cfg.Category) {
				if err := t.ensureEventLevels(fut.Context(), store, nodeID, cfg); err != nil {
					return err
				}
			}
			if err := t.loadCategory(fut, store, nodeID, cfg, histogram); err != nil {
				return err
			}
		}

		if err := t.persistHistogram(fut.Context(), store, nodeID, histogram); err != nil {
			return err
		}

		t.metadataLoaded.Store(true)
		fut.ReportProgress("", 100, "metadata load complete")
		log.Printf("[trace] metadata load complete: %d tracks, timeline=[%d,%d)", len(t.tracks), t.timeline.MinTs, t.timeline.MaxTs)
		return nil
	})
}

// createIndexes issues one btree index per category's slice table on
// (start_ts). IF NOT EXISTS keeps the step
// idempotent across reloads.
func (t *Trace) createIndexes(ctx context.Context, store *storeadapter.Store, nodeID string) error {
	var stmts []string
	for _, cfg := range t.categories {
		idxName := fmt.Sprintf("idx_%s_start_ts", cfg.SliceTable)
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (start_ts)", idxName, cfg.SliceTable))
	}
	if len(stmts) == 0 {
		return nil
	}
	return store.RunTransaction(ctx, nodeID, stmts)
}

// loadCategory discovers every distinct track identity in cfg.TrackTable,
// registers a Track+Graph for each, computes its Properties from
// cfg.LevelTable, and streams its LOD-0 slice from cfg.SliceTable, folding
// each event's level into histogram.
func (t *Trace) loadCategory(fut *jobs.Future, store *storeadapter.Store, nodeID string, cfg CategoryConfig, histogram map[int32]int64) error {
	cols := append(append([]string(nil), cfg.IdentityColumns...), "name")
	exprs := make([]querybuilder.ColumnExpr, len(cols))
	for i, c := range cols {
		exprs[i] = querybuilder.ColumnExpr{Expr: c}
	}
	q := querybuilder.New(querybuilder.QueryKindTrack, cfg.TrackTable).
		Select(exprs...).
		GroupBy(cols...).
		OrderBy(strings.Join(cols, ", "), true).
		Build()

	displayOrder := 0
	return store.Execute(fut.Context(), nodeID, q, nil, func(_ []string, row []any) (storeadapter.Decision, error) {
		if len(row) != len(cols) {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "track discovery row shape mismatch")
		}
		identity := parseIdentity(cfg.IdentityColumns, row)
		name, _ := row[len(row)-1].(string)

		props, err := t.loadTrackProperties(fut.Context(), store, nodeID, cfg, identity)
		if err != nil {
			return storeadapter.Abort, err
		}

		id := t.newTrackID()
		tr := track.New(id, cfg.Category, identity, displayOrder, name, props)
		displayOrder++

		g := track.NewGraph(trackKey(id), tr, t.pools, t.mgr, defaultBaseSegmentDuration, defaultMaxSegmentDuration, props.MinTs, props.MaxTs)
		tr.AddGraph("default", g)
		t.registerTrack(tr)

		if err := t.loadRawSlice(fut, store, nodeID, cfg, identity, g, histogram); err != nil {
			return storeadapter.Abort, err
		}
		return storeadapter.Continue, nil
	}, nil)
}

func parseIdentity(cols []string, row []any) track.Identity {
	var id track.Identity
	for i, c := range cols {
		v, _ := toU64(row[i])
		switch c {
		case "node":
			id.Node = uint32(v)
		case "process":
			id.Process = v
		case "thread":
			id.Thread = v
		case "agent":
			id.Agent = v
		case "queue":
			id.Queue = v
		case "counter":
			id.Counter = v
		}
	}
	return id
}

func identityFilter(cols []string, identity track.Identity) (string, []any) {
	var clauses []string
	var args []any
	n := 1
	for _, c := range cols {
		var v uint64
		switch c {
		case "node":
			v = uint64(identity.Node)
		case "process":
			v = identity.Process
		case "thread":
			v = identity.Thread
		case "agent":
			v = identity.Agent
		case "queue":
			v = identity.Queue
		case "counter":
			v = identity.Counter
		default:
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", c, n))
		args = append(args, v)
		n++
	}
	return strings.Join(clauses, " AND "), args
}

// loadTrackProperties computes TrackProperties from cfg.LevelTable.
func (t *Trace) loadTrackProperties(ctx context.Context, store *storeadapter.Store, nodeID string, cfg CategoryConfig, identity track.Identity) (track.Properties, error) {
	where, args := identityFilter(cfg.IdentityColumns, identity)
	q := querybuilder.New(querybuilder.QueryKindLevel, cfg.LevelTable).
		Select(
			querybuilder.ColumnExpr{Expr: "MIN(start_ts)"},
			querybuilder.ColumnExpr{Expr: "MAX(end_ts)"},
			querybuilder.ColumnExpr{Expr: "MAX(level)"},
		).
		Where(where).
		Build()

	var props track.Properties
	err := store.Execute(ctx, nodeID, q, args, func(_ []string, row []any) (storeadapter.Decision, error) {
		if len(row) != 3 {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "level row shape mismatch")
		}
		minTs, _ := toI64(row[0])
		maxTs, _ := toI64(row[1])
		maxLevel, _ := toI64(row[2])
		props = track.Properties{MinTs: minTs, MaxTs: maxTs, MaxLevel: int32(maxLevel)}
		return storeadapter.Continue, nil
	}, nil)
	return props, err
}

// loadRawSlice streams cfg.SliceTable's rows into g's LOD-0 timeline,
// interning names and folding levels into histogram as it goes.
func (t *Trace) loadRawSlice(fut *jobs.Future, store *storeadapter.Store, nodeID string, cfg CategoryConfig, identity track.Identity, g *track.Graph, histogram map[int32]int64) error {
	where, args := identityFilter(cfg.IdentityColumns, identity)
	raw := g.RawTimeline()

	isSample := cfg.Category == tracemodel.CategoryMemoryAllocation ||
		cfg.Category == tracemodel.CategoryMemoryCopy ||
		cfg.Category == tracemodel.CategoryPerformanceCounter

	var q string
	if isSample {
		q = querybuilder.New(querybuilder.QueryKindSlice, cfg.SliceTable).
			Select(
				querybuilder.ColumnExpr{Expr: "event_id"},
				querybuilder.ColumnExpr{Expr: "start_ts"},
				querybuilder.ColumnExpr{Expr: "end_ts"},
				querybuilder.ColumnExpr{Expr: "value"},
				querybuilder.ColumnExpr{Expr: "next_value"},
			).
			Where(where).
			OrderBy("start_ts", true).
			Build()
	} else {
		// Level is not trusted from the source table: it is joined from
		// the persisted event_levels_<op>_v<K> cache ensureEventLevels
		// populated above.
		levelsTable := track.EventLevelsTableName(opName(cfg.Category))
		q = querybuilder.New(querybuilder.QueryKindSlice, cfg.SliceTable+" s").
			Select(
				querybuilder.ColumnExpr{Expr: "s.event_id"},
				querybuilder.ColumnExpr{Expr: "s.start_ts"},
				querybuilder.ColumnExpr{Expr: "s.end_ts"},
				querybuilder.ColumnExpr{Expr: "COALESCE(l.level, 0)"},
				querybuilder.ColumnExpr{Expr: "s.name"},
			).
			Join("LEFT JOIN", levelsTable+" l", "l.eid = s.event_id").
			Where(where).
			OrderBy("s.start_ts", true).
			Build()
	}

	touched := make(map[int]bool)
	var rowsDone int64
	err := store.Execute(fut.Context(), nodeID, q, args, func(_ []string, row []any) (storeadapter.Decision, error) {
		rowsDone++
		if isSample {
			id, _ := toU64(row[0])
			startTs, _ := toI64(row[1])
			endTs, _ := toI64(row[2])
			val, _ := toF64(row[3])
			nextVal, _ := toF64(row[4])
			sm := tracemodel.Sample{ID: tracemodel.SampleID(id), Ts: startTs, NextTs: endTs, Value: val, NextValue: nextVal}
			seg := raw.Insert(raw.IndexAt(startTs))
			seg.InsertSample(0, sm)
			touched[raw.IndexAt(startTs)] = true
		} else {
			id, _ := toU64(row[0])
			startTs, _ := toI64(row[1])
			endTs, _ := toI64(row[2])
			level, _ := toI64(row[3])
			name, _ := row[4].(string)
			nameID := t.stringMapFor(cfg).Remap(identity.Agent, id, "name", name)
			e := tracemodel.Event{ID: tracemodel.EventID(id), StartTs: startTs, EndTs: endTs, Level: int32(level), Category: cfg.Category, NameID: nameID}
			seg := raw.Insert(raw.IndexAt(startTs))
			seg.InsertEvent(int32(level), e)
			touched[raw.IndexAt(startTs)] = true
			histogram[int32(level)]++
		}
		if rowsDone%1000 == 0 {
			fut.AddRowsProcessed(1000)
		}
		return storeadapter.Continue, nil
	}, nil)
	if err != nil {
		return err
	}
	fut.AddRowsProcessed(rowsDone % 1000)
	for i := range touched {
		raw.MarkProcessed(i)
	}
	return nil
}

// persistHistogram writes the per-level event-count histogram gathered
// during metadata load to a dedicated table, for the external histogram
// widget to read back.
func (t *Trace) persistHistogram(ctx context.Context, store *storeadapter.Store, nodeID string, histogram map[int32]int64) error {
	if len(histogram) == 0 {
		return nil
	}
	if err := store.CreateTable(ctx, nodeID, "trace_level_histogram", []string{"level INTEGER PRIMARY KEY", "event_count BIGINT"}); err != nil {
		return err
	}
	var stmts []string
	for level, count := range histogram {
		stmts = append(stmts, fmt.Sprintf(
			"INSERT INTO trace_level_histogram (level, event_count) VALUES (%d, %d) ON CONFLICT (level) DO UPDATE SET event_count = %d",
			level, count, count))
	}
	return store.RunTransaction(ctx, nodeID, stmts)
}

// needsLevelPrecompute reports whether cat is one of the two event
// categories (as opposed to sample categories) that get per-event level
// precomputation: Region and KernelDispatch.
func needsLevelPrecompute(cat tracemodel.CategoryID) bool {
	return cat == tracemodel.CategoryRegion || cat == tracemodel.CategoryKernelDispatch
}

// opName renders cat's name in lower case (e.g. "kerneldispatch") for use in
// event_levels_<op>_v<K> table names.
func opName(cat tracemodel.CategoryID) string {
	return strings.ToLower(cat.String())
}

// ensureEventLevels maintains the per-event level cache: if
// event_levels_<op>_v<K> already exists for cfg's category,
// recomputation is skipped entirely -- the slice query below
// joins straight against it. Otherwise every event in cfg.LevelTable is
// read, grouped by its track identity columns, leveled with
// track.ComputeLevels, and the result is persisted, after first dropping
// any older-versioned table for the same op.
func (t *Trace) ensureEventLevels(ctx context.Context, store *storeadapter.Store, nodeID string, cfg CategoryConfig) error {
	op := opName(cfg.Category)
	tableName := track.EventLevelsTableName(op)

	exists, err := tableExists(ctx, store, nodeID, tableName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	for _, old := range track.OldEventLevelsTableNames(op) {
		if err := store.DropTable(ctx, nodeID, old); err != nil {
			return err
		}
	}

	cols := append(append([]string(nil), cfg.IdentityColumns...), "event_id", "start_ts", "end_ts")
	exprs := make([]querybuilder.ColumnExpr, len(cols))
	for i, c := range cols {
		exprs[i] = querybuilder.ColumnExpr{Expr: c}
	}
	q := querybuilder.New(querybuilder.QueryKindLevel, cfg.LevelTable).
		Select(exprs...).
		OrderBy(strings.Join(cfg.IdentityColumns, ", ")+", start_ts", true).
		Build()

	grouped := make(map[track.Identity][]track.LevelInput)
	err = store.Execute(ctx, nodeID, q, nil, func(_ []string, row []any) (storeadapter.Decision, error) {
		n := len(cfg.IdentityColumns)
		if len(row) != n+3 {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "level precompute row shape mismatch")
		}
		identity := parseIdentity(cfg.IdentityColumns, row[:n])
		eid, _ := toU64(row[n])
		start, _ := toI64(row[n+1])
		end, _ := toI64(row[n+2])
		grouped[identity] = append(grouped[identity], track.LevelInput{
			ID:    tracemodel.EventID(eid),
			Start: start,
			End:   end,
		})
		return storeadapter.Continue, nil
	}, nil)
	if err != nil {
		return err
	}

	if err := store.CreateTable(ctx, nodeID, tableName, []string{"eid BIGINT PRIMARY KEY", "level INTEGER"}); err != nil {
		return err
	}

	var stmts []string
	for _, group := range grouped {
		for eid, lvl := range track.ComputeLevels(group) {
			stmts = append(stmts, fmt.Sprintf(
				"INSERT INTO %s (eid, level) VALUES (%d, %d) ON CONFLICT (eid) DO UPDATE SET level = %d",
				tableName, uint64(eid), lvl, lvl))
		}
	}
	if len(stmts) == 0 {
		return nil
	}
	return store.RunTransaction(ctx, nodeID, stmts)
}

// tableExists probes information_schema for name's presence.
func tableExists(ctx context.Context, store *storeadapter.Store, nodeID, name string) (bool, error) {
	found := false
	q := "SELECT 1 FROM information_schema.tables WHERE table_name = $1"
	err := store.Execute(ctx, nodeID, q, []any{name}, func(_ []string, _ []any) (storeadapter.Decision, error) {
		found = true
		return storeadapter.Abort, nil
	}, nil)
	return found, err
}
