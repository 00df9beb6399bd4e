package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDuplicateRequest = errors.New("status change with this request id was already applied")

// TimelineRepository is the append-only history of status changes, the
// source of truth for an order's status.
type TimelineRepository interface {
	Append(ctx context.Context, entry *TimelineEntry) error
	History(ctx context.Context, token string) ([]TimelineEntry, error)
	// Last returns ErrOrderNotFound when the token has no entries.
	Last(ctx context.Context, token string) (*TimelineEntry, error)
	// FindByRequestID returns nil, nil when no entry carries requestID.
	FindByRequestID(ctx context.Context, token, requestID string) (*TimelineEntry, error)
	LatestStatuses(ctx context.Context) (map[string]TimelineEntry, error)
}

type postgresTimelineRepository struct {
	db *pgxpool.Pool
}

func NewTimelineRepository(db *pgxpool.Pool) TimelineRepository {
	return &postgresTimelineRepository{db: db}
}

const timelineColumns = `id, token, status, note, kind, COALESCE(request_id, ''), created_at`

func (r *postgresTimelineRepository) Append(ctx context.Context, entry *TimelineEntry) error {
	query := `
		INSERT INTO laundry.order_timeline (token, status, note, kind, request_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.Token,
		string(entry.Status),
		entry.Note,
		string(entry.Kind),
		entry.RequestID,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				return ErrOrderNotFound
			case pgerrcode.UniqueViolation:
				return ErrDuplicateRequest
			}
		}
		return fmt.Errorf("repository: failed to append timeline entry for %s: %w", entry.Token, err)
	}
	return nil
}

func (r *postgresTimelineRepository) History(ctx context.Context, token string) ([]TimelineEntry, error) {
	query := `SELECT ` + timelineColumns + ` FROM laundry.order_timeline WHERE token = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query timeline for %s: %w", token, err)
	}
	defer rows.Close()

	entries := make([]TimelineEntry, 0)
	for rows.Next() {
		entry, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan timeline entry for %s: %w", token, err)
		}
		entries = append(entries, *entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating timeline for %s: %w", token, err)
	}
	return entries, nil
}

func (r *postgresTimelineRepository) Last(ctx context.Context, token string) (*TimelineEntry, error) {
	query := `SELECT ` + timelineColumns + ` FROM laundry.order_timeline WHERE token = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	entry, err := scanTimelineEntry(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select last timeline entry for %s: %w", token, err)
	}
	return entry, nil
}

func (r *postgresTimelineRepository) FindByRequestID(ctx context.Context, token, requestID string) (*TimelineEntry, error) {
	query := `SELECT ` + timelineColumns + ` FROM laundry.order_timeline WHERE token = $1 AND request_id = $2`

	entry, err := scanTimelineEntry(r.db.QueryRow(ctx, query, token, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to look up request %s for %s: %w", requestID, token, err)
	}
	return entry, nil
}

func (r *postgresTimelineRepository) LatestStatuses(ctx context.Context) (map[string]TimelineEntry, error) {
	query := `
		SELECT DISTINCT ON (token) ` + timelineColumns + `
		FROM laundry.order_timeline
		ORDER BY token, created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query latest timeline entries: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]TimelineEntry)
	for rows.Next() {
		entry, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan latest timeline entry: %w", err)
		}
		latest[entry.Token] = *entry
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating latest timeline entries: %w", err)
	}
	return latest, nil
}

func scanTimelineEntry(row pgx.Row) (*TimelineEntry, error) {
	var (
		entry  TimelineEntry
		status string
		kind   string
	)
	if err := row.Scan(&entry.ID, &entry.Token, &status, &entry.Note, &kind, &entry.RequestID, &entry.Timestamp); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.Kind = EntryKind(kind)
	return &entry, nil
}
