package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

// AuditRepository is the append-only audit trail. Entries are never updated
// or deleted.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes an audit entry, running on q so it commits or rolls back with
// the action it records.
func (r *AuditRepository) Append(ctx context.Context, q database.Executor, entry *RequestAuditLog) error {
	var detailJSON []byte
	if entry.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(entry.Detail)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit detail")
		}
	}

	query := `
		INSERT INTO request_audit_logs
		    (request_id, action, performed_by, old_status, new_status, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	return q.QueryRow(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.PerformedBy,
		entry.OldStatus,
		entry.NewStatus,
		detailJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByRequestID returns a request's audit trail oldest first.
func (r *AuditRepository) ListByRequestID(ctx context.Context, requestID string) ([]*RequestAuditLog, error) {
	query := `
		SELECT id, request_id, action, performed_by, old_status, new_status, detail, created_at
		FROM request_audit_logs
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list audit logs")
	}
	defer rows.Close()

	var entries []*RequestAuditLog
	for rows.Next() {
		entry := &RequestAuditLog{}
		var detailJSON []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.OldStatus,
			&entry.NewStatus,
			&detailJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit log")
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit detail")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
