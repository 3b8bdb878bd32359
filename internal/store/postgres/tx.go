package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"waitline/internal/queue"
)

const entryColumns = "id, worker_id, display_name, state, rank, arrived_at, updated_at"

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) NextRank() (int, error) {
	var next int
	err := t.tx.QueryRow(t.ctx,
		`SELECT COALESCE(MAX(rank), 0) + 1 FROM queue_entries WHERE state = $1`,
		string(queue.StateWaiting),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next rank: %w", err)
	}
	return next, nil
}

func (t *pgTx) ShiftRanks(r queue.RankRange, delta int) (int64, error) {
	if r.Empty() || delta == 0 {
		return 0, nil
	}
	query := `UPDATE queue_entries SET rank = rank + $1, updated_at = NOW() WHERE state = $2 AND rank >= $3`
	args := []any{delta, string(queue.StateWaiting), r.From}
	if r.To != queue.Unbounded {
		query += ` AND rank <= $4`
		args = append(args, r.To)
	}
	tag, err := t.tx.Exec(t.ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("shift ranks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ListWaiting() ([]*queue.Entry, error) {
	return t.list(
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = $1 ORDER BY rank ASC, id ASC`,
		string(queue.StateWaiting),
	)
}

func (t *pgTx) ListInService() ([]*queue.Entry, error) {
	return t.list(
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = $1 ORDER BY arrived_at ASC, id ASC`,
		string(queue.StateInService),
	)
}

func (t *pgTx) Head() (*queue.Entry, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = $1 ORDER BY rank ASC, id ASC LIMIT 1`,
		string(queue.StateWaiting),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	return entry, nil
}

func (t *pgTx) Get(id int64) (*queue.Entry, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return entry, nil
}

func (t *pgTx) Insert(entry *queue.Entry) error {
	if entry == nil {
		return errors.New("insert nil entry")
	}
	if entry.ArrivedAt.IsZero() {
		entry.ArrivedAt = time.Now().UTC()
	}
	err := t.tx.QueryRow(t.ctx,
		`INSERT INTO queue_entries (worker_id, display_name, state, rank, arrived_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, updated_at`,
		entry.WorkerID,
		entry.DisplayName,
		string(entry.State),
		entry.Rank,
		entry.ArrivedAt,
	).Scan(&entry.ID, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return nil
}

func (t *pgTx) Update(id int64, patch queue.EntryPatch) (*queue.Entry, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if patch.State != nil {
		sets = append(sets, "state = "+arg(string(*patch.State)))
	}
	if patch.Rank != nil {
		sets = append(sets, "rank = "+arg(*patch.Rank))
	}
	if patch.ArrivedAt != nil {
		sets = append(sets, "arrived_at = "+arg(patch.ArrivedAt.UTC()))
	}
	sets = append(sets, "updated_at = NOW()")
	where := arg(id)

	row := t.tx.QueryRow(t.ctx,
		`UPDATE queue_entries SET `+strings.Join(sets, ", ")+` WHERE id = `+where+` RETURNING `+entryColumns,
		args...,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.Newf(queue.KindNotFound, "", "entry %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update entry %d: %w", id, err)
	}
	return entry, nil
}

func (t *pgTx) Delete(id int64) (bool, error) {
	tag, err := t.tx.Exec(t.ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) EntriesForWorker(workerID int64) ([]*queue.Entry, error) {
	return t.list(`SELECT `+entryColumns+` FROM queue_entries WHERE worker_id = $1 ORDER BY id ASC`, workerID)
}

func (t *pgTx) list(query string, args ...any) ([]*queue.Entry, error) {
	rows, err := t.tx.Query(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*queue.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var (
		entry    queue.Entry
		stateStr string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.WorkerID,
		&entry.DisplayName,
		&stateStr,
		&entry.Rank,
		&entry.ArrivedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.State = queue.State(stateStr)
	entry.ArrivedAt = entry.ArrivedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}
