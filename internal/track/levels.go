package track

import (
	"fmt"
	"sort"

	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// LevelTableVersion is the K in event_levels_<op>_v<K>, the persisted
// per-event level cache. Bump this whenever
// ComputeLevels' assignment rule changes shape; the trace orchestrator
// drops older-version tables on open rather than trusting stale levels.
const LevelTableVersion = 1

// LevelInput is one event's (id, start, end) tuple as the level
// precomputation algorithm needs it -- narrower than tracemodel.Event so
// a caller streaming raw query rows doesn't need to build a full Event
// first just to compute its level.
type LevelInput struct {
	ID    tracemodel.EventID
	Start int64
	End   int64
}

// ComputeLevels scans chronologically and, for each event, assigns the
// smallest non-negative integer not occupied by any event active at its
// start time, where "active" means an earlier event on the same
// queue/thread that hasn't ended yet. Ties at the same start timestamp
// keep the caller's input order.
//
// ComputeLevels is not identity-aware: callers partition raw rows into
// per-(node, process/agent, thread/queue) groups before calling this,
// one call per group.
func ComputeLevels(events []LevelInput) map[tracemodel.EventID]int32 {
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return events[order[a]].Start < events[order[b]].Start
	})

	type liveEvent struct {
		end   int64
		level int32
	}
	var live []liveEvent
	levels := make(map[tracemodel.EventID]int32, len(events))

	for _, idx := range order {
		e := events[idx]

		kept := live[:0]
		occupied := make(map[int32]bool, len(live))
		for _, a := range live {
			if a.end > e.Start {
				kept = append(kept, a)
				occupied[a.level] = true
			}
		}
		live = kept

		var lvl int32
		for occupied[lvl] {
			lvl++
		}
		levels[e.ID] = lvl
		live = append(live, liveEvent{end: e.End, level: lvl})
	}
	return levels
}

// EventLevelsTableName names the persisted per-event level cache for one
// operation/category table:
// event_levels_<op>_v<K>(eid BIGINT PRIMARY KEY, level INTEGER).
func EventLevelsTableName(op string) string {
	return fmt.Sprintf("event_levels_%s_v%d", op, LevelTableVersion)
}

// OldEventLevelsTableNames returns the table names of every prior
// version of op's level cache (v1..LevelTableVersion-1), for the
// orchestrator to drop on open.
func OldEventLevelsTableNames(op string) []string {
	names := make([]string, 0, LevelTableVersion-1)
	for v := 1; v < LevelTableVersion; v++ {
		names = append(names, fmt.Sprintf("event_levels_%s_v%d", op, v))
	}
	return names
}
