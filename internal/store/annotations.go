package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"msgvault/api/internal/annotate"
)

// Annotations is a write-through mirror of the in-memory annotation
// store. Writes are per-mutation upserts; LoadAll rebuilds the full map
// at boot.
type Annotations struct {
	db *sql.DB
}

func NewAnnotations(db *sql.DB) *Annotations {
	return &Annotations{db: db}
}

func (a *Annotations) SaveStatus(ctx context.Context, collection, documentID, status string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO annotations (document_id, collection, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, documentID, collection, status)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (a *Annotations) SaveComment(ctx context.Context, collection, documentID string, comment annotate.Comment) error {
	labels, err := json.Marshal(comment.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save comment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO annotations (document_id, collection, status, updated_at)
		VALUES ($1, $2, 'untagged', NOW())
		ON CONFLICT (document_id) DO NOTHING
	`, documentID, collection); err != nil {
		return fmt.Errorf("ensure annotation row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO annotation_comments (id, document_id, comment_key, labels, body, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, documentID, comment.Key, labels, comment.Text, comment.Author, comment.CreatedAt); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save comment: %w", err)
	}
	return nil
}

// LoadAll reads every persisted annotation, comments in creation order.
func (a *Annotations) LoadAll(ctx context.Context) (map[string]annotate.Annotation, error) {
	annotations := make(map[string]annotate.Annotation)

	rows, err := a.db.QueryContext(ctx, `SELECT document_id, status FROM annotations`)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var documentID, status string
		if err := rows.Scan(&documentID, &status); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations[documentID] = annotate.Annotation{Status: status, Comments: []annotate.Comment{}}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}

	commentRows, err := a.db.QueryContext(ctx, `
		SELECT id, document_id, comment_key, labels, body, author, created_at
		FROM annotation_comments
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		var comment annotate.Comment
		var documentID string
		var labels []byte
		if err := commentRows.Scan(&comment.ID, &documentID, &comment.Key, &labels, &comment.Text, &comment.Author, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if err := json.Unmarshal(labels, &comment.Labels); err != nil {
			return nil, fmt.Errorf("decode labels for comment %s: %w", comment.ID, err)
		}
		ann, ok := annotations[documentID]
		if !ok {
			ann = annotate.Annotation{Status: annotate.StatusUntagged, Comments: []annotate.Comment{}}
		}
		ann.Comments = append(ann.Comments, comment)
		annotations[documentID] = ann
	}
	if err := commentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return annotations, nil
}

func (a *Annotations) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
