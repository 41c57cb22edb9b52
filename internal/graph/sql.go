package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/lib/pq"
)

// SQLStore persists the topology in Postgres. Labels and properties are
// stored as JSON text so the schema stays stable while the property set
// evolves. Writes are serialized behind a mutex to keep the read-merge-
// write upsert atomic; reads go straight to the pool.
type SQLStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	labels     TEXT NOT NULL DEFAULT '[]',
	properties TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS edges (
	source     TEXT NOT NULL,
	target     TEXT NOT NULL,
	relation   TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (source, target, relation)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target);
`

// NewSQLStore connects to Postgres and ensures the schema exists.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	slog.Info("[Graph] Postgres store ready")
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) AddNode(ctx context.Context, id string, labels []string, props map[string]interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.upsertNode(ctx, id, labels, props)
}

func (s *SQLStore) upsertNode(ctx context.Context, id string, labels []string, props map[string]interface{}) error {
	var labelsJSON, propsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT labels, properties FROM nodes WHERE id = $1`, id).
		Scan(&labelsJSON, &propsJSON)

	mergedLabels := mergeLabels(nil, labels)
	mergedProps := mergeProps(nil, props)
	switch err {
	case nil:
		var existingLabels []string
		var existingProps map[string]interface{}
		if jerr := json.Unmarshal([]byte(labelsJSON), &existingLabels); jerr == nil {
			mergedLabels = mergeLabels(existingLabels, labels)
		}
		if jerr := json.Unmarshal([]byte(propsJSON), &existingProps); jerr == nil {
			mergedProps = mergeProps(existingProps, props)
		}
	case sql.ErrNoRows:
	default:
		return fmt.Errorf("read node %s: %w", id, err)
	}

	lj, _ := json.Marshal(mergedLabels)
	pj, _ := json.Marshal(mergedProps)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, labels, properties) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET labels = $2, properties = $3`,
		id, string(lj), string(pj))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) AddEdge(ctx context.Context, source, target, relation string, props map[string]interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, endpoint := range []string{source, target} {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM nodes WHERE id = $1)`, endpoint).Scan(&exists); err != nil {
			return fmt.Errorf("check node %s: %w", endpoint, err)
		}
		if !exists {
			if err := s.upsertNode(ctx, endpoint, []string{"Unknown"}, nil); err != nil {
				return err
			}
		}
	}

	var propsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT properties FROM edges
		WHERE source = $1 AND target = $2 AND relation = $3`,
		source, target, relation).Scan(&propsJSON)

	merged := mergeProps(nil, props)
	switch err {
	case nil:
		var existing map[string]interface{}
		if jerr := json.Unmarshal([]byte(propsJSON), &existing); jerr == nil {
			merged = mergeProps(existing, props)
		}
	case sql.ErrNoRows:
	default:
		return fmt.Errorf("read edge %s->%s: %w", source, target, err)
	}

	pj, _ := json.Marshal(merged)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (source, target, relation, properties) VALUES ($1, $2, $3, $4)
		ON CONFLICT (source, target, relation) DO UPDATE SET properties = $4`,
		source, target, relation, string(pj))
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s: %w", source, target, err)
	}
	return nil
}

func (s *SQLStore) AllNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, labels, properties FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		var id, labelsJSON, propsJSON string
		if err := rows.Scan(&id, &labelsJSON, &propsJSON); err != nil {
			return nil, err
		}
		n := &Node{ID: id}
		json.Unmarshal([]byte(labelsJSON), &n.Labels)
		json.Unmarshal([]byte(propsJSON), &n.Properties)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) AllEdges(ctx context.Context) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, relation, properties FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		var e Edge
		var propsJSON string
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &propsJSON); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(propsJSON), &e.Properties)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
