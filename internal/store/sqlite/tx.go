package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"waitline/internal/queue"
)

const entryColumns = "id, worker_id, display_name, state, rank, arrived_at, updated_at"

// timeLayout is fixed width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqlTx struct {
	ctx context.Context
	q   querier
	now func() time.Time
}

func (t *sqlTx) stamp() string {
	return formatTime(t.now())
}

func (t *sqlTx) NextRank() (int, error) {
	var next int
	err := t.q.QueryRowContext(t.ctx,
		`SELECT COALESCE(MAX(rank), 0) + 1 FROM queue_entries WHERE state = ?`,
		string(queue.StateWaiting),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next rank: %w", err)
	}
	return next, nil
}

func (t *sqlTx) ShiftRanks(r queue.RankRange, delta int) (int64, error) {
	if r.Empty() || delta == 0 {
		return 0, nil
	}
	query := `UPDATE queue_entries SET rank = rank + ?, updated_at = ? WHERE state = ? AND rank >= ?`
	args := []any{delta, t.stamp(), string(queue.StateWaiting), r.From}
	if r.To != queue.Unbounded {
		query += ` AND rank <= ?`
		args = append(args, r.To)
	}
	res, err := t.q.ExecContext(t.ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("shift ranks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("shift ranks rows affected: %w", err)
	}
	return affected, nil
}

func (t *sqlTx) ListWaiting() ([]*queue.Entry, error) {
	return t.list(
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = ? ORDER BY rank ASC, id ASC`,
		string(queue.StateWaiting),
	)
}

func (t *sqlTx) ListInService() ([]*queue.Entry, error) {
	return t.list(
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = ? ORDER BY arrived_at ASC, id ASC`,
		string(queue.StateInService),
	)
}

func (t *sqlTx) Head() (*queue.Entry, error) {
	row := t.q.QueryRowContext(t.ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE state = ? ORDER BY rank ASC, id ASC LIMIT 1`,
		string(queue.StateWaiting),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	return entry, nil
}

// Get returns nil, nil when the entry does not exist.
func (t *sqlTx) Get(id int64) (*queue.Entry, error) {
	row := t.q.QueryRowContext(t.ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return entry, nil
}

func (t *sqlTx) Insert(entry *queue.Entry) error {
	if entry == nil {
		return errors.New("insert nil entry")
	}
	now := t.now().UTC()
	if entry.ArrivedAt.IsZero() {
		entry.ArrivedAt = now
	}
	entry.UpdatedAt = now
	res, err := t.q.ExecContext(t.ctx,
		`INSERT INTO queue_entries (worker_id, display_name, state, rank, arrived_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.WorkerID,
		entry.DisplayName,
		string(entry.State),
		entry.Rank,
		formatTime(entry.ArrivedAt),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry id: %w", err)
	}
	entry.ID = id
	return nil
}

func (t *sqlTx) Update(id int64, patch queue.EntryPatch) (*queue.Entry, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if patch.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*patch.State))
	}
	if patch.Rank != nil {
		sets = append(sets, "rank = ?")
		args = append(args, *patch.Rank)
	}
	if patch.ArrivedAt != nil {
		sets = append(sets, "arrived_at = ?")
		args = append(args, formatTime(*patch.ArrivedAt))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, t.stamp(), id)

	res, err := t.q.ExecContext(t.ctx,
		`UPDATE queue_entries SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update entry %d: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, queue.Newf(queue.KindNotFound, "", "entry %d not found", id)
	}
	return t.Get(id)
}

func (t *sqlTx) Delete(id int64) (bool, error) {
	res, err := t.q.ExecContext(t.ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry rows affected: %w", err)
	}
	return affected > 0, nil
}

func (t *sqlTx) EntriesForWorker(workerID int64) ([]*queue.Entry, error) {
	return t.list(`SELECT `+entryColumns+` FROM queue_entries WHERE worker_id = ? ORDER BY id ASC`, workerID)
}

func (t *sqlTx) list(query string, args ...any) ([]*queue.Entry, error) {
	rows, err := t.q.QueryContext(t.ctx, query, args...)
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

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*queue.Entry, error) {
	var (
		id          int64
		workerID    int64
		displayName sql.NullString
		stateStr    string
		rank        int
		arrivedRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &workerID, &displayName, &stateStr, &rank, &arrivedRaw, &updatedRaw); err != nil {
		return nil, err
	}
	entry := &queue.Entry{
		ID:          id,
		WorkerID:    workerID,
		DisplayName: displayName.String,
		State:       queue.State(stateStr),
		Rank:        rank,
	}
	if arrived, err := parseTimeString(arrivedRaw.String); err == nil {
		entry.ArrivedAt = arrived
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
