package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"osline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound      = errors.New("not found")
	ErrStageConflict = errors.New("stage changed")
)

// TimeLayout is the on-disk timestamp format. UTC values in this layout sort
// lexicographically, which the deadline and de-dup queries rely on.
const TimeLayout = time.RFC3339

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id,org_id,title,stage,priority,responsible_user,sla_deadline,internal_approved,external_approved,created_at,updated_at`

func scanOrder(s scanner) (domain.ServiceOrder, error) {
	var (
		o                    domain.ServiceOrder
		responsible          sql.NullString
		deadline             sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(&o.ID, &o.OrgID, &o.Title, &o.Stage, &o.Priority, &responsible, &deadline,
		&o.InternalApproved, &o.ExternalApproved, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if responsible.Valid {
		v := responsible.String
		o.ResponsibleUser = &v
	}
	if deadline.Valid {
		t, err := parseTime(deadline.String)
		if err != nil {
			return o, err
		}
		o.SLADeadline = &t
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, err
	}
	return o, nil
}

func (r Repo) InsertOrder(ctx context.Context, o domain.ServiceOrder) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO service_orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OrgID, o.Title, o.Stage, o.Priority, nullableStringPtr(o.ResponsibleUser), nullableTimePtr(o.SLADeadline),
		o.InternalApproved, o.ExternalApproved, FormatTime(o.CreatedAt), FormatTime(o.UpdatedAt))
	return err
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.ServiceOrder, error) {
	return scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id=?`, id))
}

type OrderFilters struct {
	OrgID  string
	Stage  domain.Stage
	Active bool
	Limit  int
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.ServiceOrder, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Active {
		clauses = append(clauses, "stage<>?")
		args = append(args, domain.StagePostado)
	}
	query := fmt.Sprintf(`SELECT %s FROM service_orders WHERE %s ORDER BY created_at DESC, id`, orderColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryOrders(ctx, query, args...)
}

// ListActiveOrdersWithDeadline returns every non-terminal order carrying a
// deadline, soonest deadline first.
func (r Repo) ListActiveOrdersWithDeadline(ctx context.Context) ([]domain.ServiceOrder, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM service_orders
WHERE stage<>? AND sla_deadline IS NOT NULL ORDER BY sla_deadline, id`, domain.StagePostado)
}

func (r Repo) queryOrders(ctx context.Context, query string, args ...any) ([]domain.ServiceOrder, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// Nullable marks a nullable column for update. Set=false leaves the column alone;
// Set=true with a nil Value writes NULL.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func Set[T any](v *T) Nullable[T] { return Nullable[T]{Set: true, Value: v} }

// OrderPatch describes one write to a service order. When ExpectedStage is
// non-empty the write only applies if the stored stage still matches it.
type OrderPatch struct {
	ExpectedStage    domain.Stage
	Stage            *domain.Stage
	ResponsibleUser  Nullable[string]
	SLADeadline      Nullable[time.Time]
	InternalApproved *bool
	ExternalApproved *bool
	UpdatedAt        time.Time
}

// UpdateOrder applies p as a single statement. It returns ErrStageConflict when
// the order exists but is no longer in p.ExpectedStage.
func (r Repo) UpdateOrder(ctx context.Context, id string, p OrderPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Stage != nil {
		fields = append(fields, "stage=?")
		args = append(args, *p.Stage)
	}
	if p.ResponsibleUser.Set {
		fields = append(fields, "responsible_user=?")
		args = append(args, nullableStringPtr(p.ResponsibleUser.Value))
	}
	if p.SLADeadline.Set {
		fields = append(fields, "sla_deadline=?")
		args = append(args, nullableTimePtr(p.SLADeadline.Value))
	}
	if p.InternalApproved != nil {
		fields = append(fields, "internal_approved=?")
		args = append(args, *p.InternalApproved)
	}
	if p.ExternalApproved != nil {
		fields = append(fields, "external_approved=?")
		args = append(args, *p.ExternalApproved)
	}
	if len(fields) == 0 {
		return nil
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	fields = append(fields, "updated_at=?")
	args = append(args, FormatTime(updatedAt))

	where := "id=?"
	args = append(args, id)
	if p.ExpectedStage != "" {
		where += " AND stage=?"
		args = append(args, p.ExpectedStage)
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE service_orders SET %s WHERE %s`, strings.Join(fields, ","), where), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if p.ExpectedStage == "" {
		return ErrNotFound
	}
	var stage string
	err = r.DB.QueryRowContext(ctx, `SELECT stage FROM service_orders WHERE id=?`, id).Scan(&stage)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStageConflict
}

// CountActiveByResponsible returns the number of non-terminal orders each user
// is responsible for within an organization.
func (r Repo) CountActiveByResponsible(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT responsible_user, COUNT(*) FROM service_orders
WHERE org_id=? AND stage<>? AND responsible_user IS NOT NULL GROUP BY responsible_user`, orgID, domain.StagePostado)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return nil, err
		}
		res[user] = n
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableTimePtr(v *time.Time) any {
	if v == nil {
		return nil
	}
	return FormatTime(*v)
}
