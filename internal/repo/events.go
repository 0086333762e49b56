package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"osline/internal/domain"
)

const eventColumns = `id,ts,org_id,order_id,actor_id,action,detail,payload_json`

func scanEvent(s scanner) (domain.Event, error) {
	var (
		e     domain.Event
		ts    string
		actor sql.NullString
	)
	if err := s.Scan(&e.ID, &ts, &e.OrgID, &e.OrderID, &actor, &e.Action, &e.Detail, &e.Payload); err != nil {
		return e, err
	}
	if actor.Valid {
		v := actor.String
		e.ActorID = &v
	}
	t, err := parseTime(ts)
	if err != nil {
		return e, err
	}
	e.TS = t
	return e, nil
}

// QueryRecentEvents returns entries for an order and action recorded at or
// after since, newest first.
func (r Repo) QueryRecentEvents(ctx context.Context, orderID string, action domain.Action, since time.Time) ([]domain.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM event_log
WHERE order_id=? AND action=? AND ts>=? ORDER BY id DESC`, orderID, action, FormatTime(since))
}

type EventFilters struct {
	OrgID   string
	OrderID string
	Action  domain.Action
	// Cursor returns entries older than this id when positive.
	Cursor int64
	Limit  int
}

// ListEvents returns entries newest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM event_log WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
