package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"ledgerlink/internal/domain/connection"
)

// staleSyncWindow is how long a connection may sit in 'syncing' before
// BeginSync treats the holder as crashed and takes the row over.
const staleSyncWindow = "15 minutes"

type ConnectionRepository struct {
	db *DB
}

// Ensure ConnectionRepository implements the domain interface
var _ connection.Repository = (*ConnectionRepository)(nil)

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, access_token, item_id, cursor, status, error_detail, last_synced_at, active, created_at, updated_at`

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListActiveByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE user_id = $1 AND active
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepository) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT user_id FROM connections WHERE active ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}
	return userIDs, nil
}

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	query := `
		INSERT INTO connections (id, user_id, access_token, item_id, status, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING ` + connectionColumns

	conn, err := scanConnection(r.db.QueryRowContext(
		ctx, query,
		uuid.New().String(), params.UserID, params.AccessToken, params.ItemID, connection.StatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE connections SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	return nil
}

// BeginSync is a status-gated compare-and-swap: it acquires the connection by
// flipping status to 'syncing' only when no live sync already holds it. The
// stale window lets a new sync take over after a crashed one.
func (r *ConnectionRepository) BeginSync(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE connections
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND active
		  AND (status <> $1 OR updated_at < CURRENT_TIMESTAMP - INTERVAL '` + staleSyncWindow + `')
	`

	result, err := r.db.ExecContext(ctx, query, connection.StatusSyncing, id)
	if err != nil {
		return false, fmt.Errorf("failed to begin sync: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

func (r *ConnectionRepository) UpdateCursor(ctx context.Context, id string, cursor string) error {
	query := `UPDATE connections SET cursor = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, cursor, id); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) CompleteSync(ctx context.Context, id string, cursor string) error {
	query := `
		UPDATE connections
		SET cursor = $1,
		    status = $2,
		    error_detail = NULL,
		    last_synced_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, cursor, connection.StatusSynced, id); err != nil {
		return fmt.Errorf("failed to complete sync: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) MarkError(ctx context.Context, id string, detail string) error {
	query := `
		UPDATE connections
		SET status = $1, error_detail = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, connection.StatusError, detail, id); err != nil {
		return fmt.Errorf("failed to mark connection error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*connection.Connection, error) {
	var conn connection.Connection
	var cursor, errorDetail sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.AccessToken, &conn.ItemID,
		&cursor, &conn.Status, &errorDetail, &lastSyncedAt,
		&conn.Active, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cursor.Valid {
		conn.Cursor = &cursor.String
	}
	if errorDetail.Valid {
		conn.ErrorDetail = &errorDetail.String
	}
	if lastSyncedAt.Valid {
		conn.LastSyncedAt = &lastSyncedAt.Time
	}

	return &conn, nil
}
