package repo

import (
	"context"
	"database/sql"
	"time"

	"osline/internal/domain"
)

func (r Repo) InsertChecklistItem(ctx context.Context, it domain.ChecklistItem, now time.Time) error {
	ts := FormatTime(now)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO checklist_items(id,order_id,stage,title,required,done,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.OrderID, it.Stage, it.Title, it.Required, it.Done, ts, ts)
	return err
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	var it domain.ChecklistItem
	err := r.DB.QueryRowContext(ctx, `SELECT id,order_id,stage,title,required,done FROM checklist_items WHERE id=?`, id).
		Scan(&it.ID, &it.OrderID, &it.Stage, &it.Title, &it.Required, &it.Done)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) SetChecklistItemDone(ctx context.Context, id string, done bool, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE checklist_items SET done=?, updated_at=? WHERE id=?`, done, FormatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChecklistItems returns the checklist of an order for one stage. An empty
// stage returns items for every stage.
func (r Repo) ListChecklistItems(ctx context.Context, orderID string, stage domain.Stage) ([]domain.ChecklistItem, error) {
	query := `SELECT id,order_id,stage,title,required,done FROM checklist_items WHERE order_id=?`
	args := []any{orderID}
	if stage != "" {
		query += ` AND stage=?`
		args = append(args, stage)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		var it domain.ChecklistItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Stage, &it.Title, &it.Required, &it.Done); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertAsset(ctx context.Context, a domain.Asset) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assets(id,order_id,kind,uri,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.OrderID, a.Kind, nullable(a.URI), FormatTime(a.CreatedAt))
	return err
}

// ListAssets returns the assets of an order, optionally filtered by kind.
func (r Repo) ListAssets(ctx context.Context, orderID string, kind domain.AssetKind) ([]domain.Asset, error) {
	query := `SELECT id,order_id,kind,COALESCE(uri,''),created_at FROM assets WHERE order_id=?`
	args := []any{orderID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		var (
			a  domain.Asset
			ts string
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Kind, &a.URI, &ts); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
