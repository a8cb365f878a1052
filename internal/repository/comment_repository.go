package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

const commentColumns = `
	id, request_id, comment_type, content, author_id,
	approval_step_id, parent_comment_id, created_at`

// CommentRepository handles request comments, including the info_request and
// info_response exchanges that pause and resume the approval chain.
type CommentRepository struct {
	db *database.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *database.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment, running on q so it can join a request transaction.
func (r *CommentRepository) Create(ctx context.Context, q database.Executor, c *RequestComment) error {
	query := `
		INSERT INTO request_comments
		    (request_id, comment_type, content, author_id, approval_step_id, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	return q.QueryRow(ctx, query,
		c.RequestID,
		c.CommentType,
		c.Content,
		c.AuthorID,
		c.ApprovalStepID,
		c.ParentCommentID,
	).Scan(&c.ID, &c.CreatedAt)
}

// FindByID retrieves a comment by primary key.
func (r *CommentRepository) FindByID(ctx context.Context, q database.Executor, id string) (*RequestComment, error) {
	query := `SELECT ` + commentColumns + ` FROM request_comments WHERE id = $1`

	c, err := scanComment(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request_comment", id)
	}
	return c, err
}

// ListByRequestID returns a request's comments oldest first.
func (r *CommentRepository) ListByRequestID(ctx context.Context, requestID string) ([]*RequestComment, error) {
	query := `SELECT ` + commentColumns + `
		FROM request_comments
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list request comments")
	}
	defer rows.Close()

	var comments []*RequestComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request comment")
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// FindLatestInfoRequest returns the newest unanswered info_request comment on
// the request, or nil when there is none.
func (r *CommentRepository) FindLatestInfoRequest(ctx context.Context, q database.Executor, requestID string) (*RequestComment, error) {
	query := `SELECT ` + commentColumns + `
		FROM request_comments c
		WHERE c.request_id = $1
		  AND c.comment_type = 'info_request'
		  AND NOT EXISTS (
		      SELECT 1 FROM request_comments resp
		      WHERE resp.parent_comment_id = c.id
		        AND resp.comment_type = 'info_response'
		  )
		ORDER BY c.created_at DESC
		LIMIT 1`

	c, err := scanComment(q.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type commentScanner interface {
	Scan(dest ...any) error
}

func scanComment(row commentScanner) (*RequestComment, error) {
	c := &RequestComment{}
	err := row.Scan(
		&c.ID,
		&c.RequestID,
		&c.CommentType,
		&c.Content,
		&c.AuthorID,
		&c.ApprovalStepID,
		&c.ParentCommentID,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
