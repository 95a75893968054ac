// Package storeadapter is the backing-store adapter: it translates the
// engine's queries into row streams from a relational store, with
// per-node connection pooling, per-query cancellation, and node-set
// federation for opening multiple trace files together.
//
// Pooling itself is delegated to pgxpool.Pool (github.com/jackc/pgx/v5);
// this package does not hand-roll a second connection pool on top of one
// the driver already provides correctly.
package storeadapter

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// ColumnFallback is the NULL-mapping policy for one column: substitute an
// int default, substitute a string default, or skip the whole row.
type ColumnFallback struct {
	IntDefault    int64
	StringDefault string
	IsString      bool
	SkipRow       bool
}

// Node is one opened db-node: a trace file's connection pool plus the
// node-local state (schema variant, guid, NULL fallbacks, query rate
// limiter) the adapter needs to serve it.
type Node struct {
	ID      string
	GUID    string
	Variant interner.SchemaVariant

	pool        *pgxpool.Pool
	serviceConn *pgxpool.Conn // reserved service connection; first acquired, last released
	limiter     *rate.Limiter

	mu         sync.RWMutex
	fallbacks  map[string]ColumnFallback
}

// Store owns every currently-open db-node. A Trace (internal/trace) holds
// exactly one Store; node-set federation (multiple trace files opened
// together, e.g. for a merged export) is multiple Nodes inside one Store.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewStore() *Store {
	return &Store{nodes: make(map[string]*Node)}
}

// Open parses dsn, builds a connection pool capped at runtime.NumCPU()
// connections in total, reserves one service connection, and registers the
// node under a fresh id.
func (s *Store) Open(ctx context.Context, dsn string, variant interner.SchemaVariant) (*Node, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, traceerr.Wrap(traceerr.KindInvalidParameter, "parse dsn", err)
	}
	if cfg.MaxConns <= 0 || int(cfg.MaxConns) > runtime.NumCPU() {
		cfg.MaxConns = int32(runtime.NumCPU())
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, traceerr.Wrap(traceerr.KindDbAccessFailed, "open db-node", err)
	}

	svc, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, traceerr.Wrap(traceerr.KindDbAccessFailed, "reserve service connection", err)
	}

	n := &Node{
		ID:          uuid.NewString(),
		GUID:        uuid.NewString(),
		Variant:     variant,
		pool:        pool,
		serviceConn: svc,
		limiter:     rate.NewLimiter(rate.Limit(200), 50),
		fallbacks:   make(map[string]ColumnFallback),
	}

	s.mu.Lock()
	s.nodes[n.ID] = n
	s.mu.Unlock()
	return n, nil
}

// Close releases the node's service connection (reserved first on Open,
// released last here) and closes its pool.
func (s *Store) Close(nodeID string) error {
	s.mu.Lock()
	n, ok := s.nodes[nodeID]
	if ok {
		delete(s.nodes, nodeID)
	}
	s.mu.Unlock()
	if !ok {
		return traceerr.New(traceerr.KindNotFound, "unknown db-node: "+nodeID)
	}
	n.serviceConn.Release()
	n.pool.Close()
	return nil
}

func (s *Store) Node(nodeID string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	return n, ok
}

// multiNode reports whether more than one db-node is currently open,
// the condition under which %GUID% expansion applies.
func (s *Store) multiNode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes) > 1
}

// SetColumnFallback installs the NULL-mapping policy for column on node.
func (n *Node) SetColumnFallback(column string, fb ColumnFallback) {
	n.mu.Lock()
	n.fallbacks[column] = fb
	n.mu.Unlock()
}

func (n *Node) fallbackFor(column string) (ColumnFallback, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fb, ok := n.fallbacks[column]
	return fb, ok
}

// expandGUID replaces the literal %GUID% placeholder with node's guid
// when operating in multi-node mode.
func expandGUID(query string, multiNode bool, n *Node) string {
	if !multiNode || !strings.Contains(query, "%GUID%") {
		return query
	}
	return strings.ReplaceAll(query, "%GUID%", n.GUID)
}

// RunTransaction groups stmts into one atomic DDL/DML batch.
func (s *Store) RunTransaction(ctx context.Context, nodeID string, stmts []string) error {
	n, ok := s.Node(nodeID)
	if !ok {
		return traceerr.New(traceerr.KindNotFound, "unknown db-node: "+nodeID)
	}
	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return traceerr.Wrap(traceerr.KindDbAccessFailed, "begin transaction", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return traceerr.Wrap(traceerr.KindDbAccessFailed, "exec in transaction", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return traceerr.Wrap(traceerr.KindDbAccessFailed, "commit transaction", err)
	}
	return nil
}

// CreateTable issues a CREATE TABLE statement from a pre-built column
// definition list, for the event-level-cache feature.
func (s *Store) CreateTable(ctx context.Context, nodeID, name string, columnDefs []string) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(columnDefs, ", "))
	return s.RunTransaction(ctx, nodeID, []string{ddl})
}

func (s *Store) DropTable(ctx context.Context, nodeID, name string) error {
	return s.RunTransaction(ctx, nodeID, []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", name)})
}

func (s *Store) DropIndex(ctx context.Context, nodeID, name string) error {
	return s.RunTransaction(ctx, nodeID, []string{fmt.Sprintf("DROP INDEX IF EXISTS %s", name)})
}
