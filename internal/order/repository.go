package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Repository stores the order record, the projection side of the dual write.
type Repository interface {
	// Create inserts the order together with its seed timeline entry. It
	// reports false without error when the token already exists.
	Create(ctx context.Context, order *Order, seed *TimelineEntry) (bool, error)
	GetByToken(ctx context.Context, token string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateProjection(ctx context.Context, update ProjectionUpdate) error
	UpdatePriority(ctx context.Context, token string, priority Priority, updatedAt time.Time) error
	SetFeedback(ctx context.Context, token string, feedback Feedback) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `token, owner_id, customer_name, room, contact, address, items, instructions,
		status, priority, delivery_at, feedback_rating, feedback_comment, feedback_at, submitted_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, order *Order, seed *TimelineEntry) (created bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Str("token", order.Token).Msg("repository: panic during Create, rolling back")
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Str("token", order.Token).Msg("repository: Create failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("token", order.Token).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			created = false
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	insertOrder := `
		INSERT INTO laundry.orders (token, owner_id, customer_name, room, contact, address, items, instructions,
			status, priority, delivery_at, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (token) DO NOTHING
	`
	cmdTag, err := tx.Exec(ctx, insertOrder,
		order.Token,
		order.OwnerID,
		order.CustomerName,
		order.Room,
		order.Contact,
		order.Address,
		order.Items,
		order.Instructions,
		string(order.Status),
		string(order.Priority),
		order.DeliveryAt,
		order.SubmittedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to insert order %s: %w", order.Token, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	insertSeed := `
		INSERT INTO laundry.order_timeline (token, status, note, kind, request_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id
	`
	err = tx.QueryRow(ctx, insertSeed,
		seed.Token,
		string(seed.Status),
		seed.Note,
		string(seed.Kind),
		seed.RequestID,
		seed.Timestamp,
	).Scan(&seed.ID)
	if err != nil {
		return false, fmt.Errorf("repository: failed to insert seed timeline entry for %s: %w", order.Token, err)
	}

	return true, nil
}

func (r *postgresRepository) GetByToken(ctx context.Context, token string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM laundry.orders WHERE token = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", token, err)
	}
	return order, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM laundry.orders ORDER BY submitted_at DESC, token`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	return orders, nil
}

func (r *postgresRepository) UpdateProjection(ctx context.Context, update ProjectionUpdate) error {
	query := `
		UPDATE laundry.orders
		SET status = $1, delivery_at = COALESCE($2, delivery_at), updated_at = $3
		WHERE token = $4
	`
	cmdTag, err := r.db.Exec(ctx, query, string(update.Status), update.DeliveryAt, update.UpdatedAt, update.Token)
	if err != nil {
		return fmt.Errorf("repository: failed to update status projection for %s: %w", update.Token, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) UpdatePriority(ctx context.Context, token string, priority Priority, updatedAt time.Time) error {
	query := `UPDATE laundry.orders SET priority = $1, updated_at = $2 WHERE token = $3`

	cmdTag, err := r.db.Exec(ctx, query, string(priority), updatedAt, token)
	if err != nil {
		return fmt.Errorf("repository: failed to update priority for %s: %w", token, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) SetFeedback(ctx context.Context, token string, feedback Feedback) error {
	query := `
		UPDATE laundry.orders
		SET feedback_rating = $1, feedback_comment = $2, feedback_at = $3
		WHERE token = $4
	`
	cmdTag, err := r.db.Exec(ctx, query, feedback.Rating, feedback.Comment, feedback.SubmittedAt, token)
	if err != nil {
		return fmt.Errorf("repository: failed to store feedback for %s: %w", token, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order           Order
		status          string
		priority        string
		feedbackRating  *int32
		feedbackComment *string
		feedbackAt      *time.Time
	)
	err := row.Scan(
		&order.Token,
		&order.OwnerID,
		&order.CustomerName,
		&order.Room,
		&order.Contact,
		&order.Address,
		&order.Items,
		&order.Instructions,
		&status,
		&priority,
		&order.DeliveryAt,
		&feedbackRating,
		&feedbackComment,
		&feedbackAt,
		&order.SubmittedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Status = Status(status)
	order.Priority = Priority(priority)
	if feedbackRating != nil {
		order.Feedback = &Feedback{Rating: int(*feedbackRating)}
		if feedbackComment != nil {
			order.Feedback.Comment = *feedbackComment
		}
		if feedbackAt != nil {
			order.Feedback.SubmittedAt = *feedbackAt
		}
	}
	return &order, nil
}
