package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store writes and reads audit_logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record persists the entry. event_id dedupes redelivered queue tasks.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if s == nil {
		return errors.New("audit store not initialised")
	}
	if rec.Action == "" || rec.Entity == "" || rec.EntityID == "" {
		return errors.New("audit record requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_logs (event_id, actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.ActorID, rec.Action, rec.Entity, rec.EntityID, metaJSON, rec.At)
	return err
}

// TimelineWindow fetches a filtered page of audit rows, newest first. The
// caller asks for one row beyond the page to detect a next page.
func (s *Store) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}
	if !f.From.IsZero() {
		add("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < ?", f.To)
	}
	if v := strings.TrimSpace(f.Actor); v != "" {
		add("actor_id::text = ?", v)
	}
	if v := strings.TrimSpace(f.Entity); v != "" {
		add("entity = ?", v)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		add("action = ?", v)
	}
	query := `SELECT event_id, actor_id, action, entity, entity_id, meta, occurred_at FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY occurred_at DESC, event_id DESC LIMIT " + placeholder(len(args))
	args = append(args, offset)
	query += " OFFSET " + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec  Record
			meta []byte
			at   time.Time
		)
		if err := rows.Scan(&rec.EventID, &rec.ActorID, &rec.Action, &rec.Entity, &rec.EntityID, &meta, &at); err != nil {
			return nil, err
		}
		rec.At = at
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Meta)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
