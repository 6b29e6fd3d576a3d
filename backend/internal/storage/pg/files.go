package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
)

const fileColumns = `
    id, name, local_path, size_bytes, session_id, user_id, mime_type,
    last_modified_date, is_uploaded, external_file_id, external_private_url,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (domain.FileReference, error) {
	var (
		f           domain.FileReference
		lastMod     sql.NullTime
		externalID  sql.NullString
		externalURL sql.NullString
	)
	err := row.Scan(
		&f.Id, &f.Name, &f.LocalPath, &f.Size, &f.SessionID, &f.UserID, &f.MimeType,
		&lastMod, &f.IsUploaded, &externalID, &externalURL,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return domain.FileReference{}, err
	}
	if lastMod.Valid {
		t := lastMod.Time
		f.LastModifiedDate = &t
	}
	if externalID.Valid {
		f.ExternalFileID = &externalID.String
	}
	if externalURL.Valid {
		f.ExternalPrivateURL = &externalURL.String
	}
	return f, nil
}

func scanFiles(rows *sql.Rows) ([]domain.FileReference, error) {
	defer rows.Close()
	files := make([]domain.FileReference, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file reference: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file references: %w", err)
	}
	return files, nil
}

// Write registers a received file. Re-submitting the same name within a
// session replaces the staged copy of a file that is still owed. A file the
// chat service already holds is left untouched and Write returns nil, nil.
func (s *Storage) Write(ctx context.Context, details domain.FileDetails) (*domain.FileReference, error) {
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO file_references
            (name, local_path, size_bytes, session_id, user_id, mime_type, last_modified_date, is_uploaded)
        VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
        ON CONFLICT (user_id, session_id, name) DO UPDATE SET
            local_path = EXCLUDED.local_path,
            size_bytes = EXCLUDED.size_bytes,
            mime_type = EXCLUDED.mime_type,
            last_modified_date = EXCLUDED.last_modified_date,
            is_uploaded = TRUE,
            updated_at = now()
        WHERE file_references.external_file_id IS NULL
        RETURNING`+fileColumns,
		details.Name, details.LocalPath, details.Size, details.SessionID, details.UserID,
		details.MimeType, details.LastModifiedDate,
	)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "write", Err: err}
	}
	return &f, nil
}

// ReadAllBySession returns every reference of the session in no particular order.
func (s *Storage) ReadAllBySession(ctx context.Context, sessionID domain.SessionId) ([]domain.FileReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+fileColumns+` FROM file_references WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "read session", Err: err}
	}
	files, err := scanFiles(rows)
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "read session", Err: err}
	}
	return files, nil
}

// UpdateWithExternalInfo records delivery. A missing row is not an error:
// the reference may have been replaced by a concurrent batch submission.
// An empty URL is stored as NULL.
func (s *Storage) UpdateWithExternalInfo(ctx context.Context, userID domain.UserId, sessionID domain.SessionId, name string, info domain.ExternalInfo) (*domain.FileReference, error) {
	row := s.db.QueryRowContext(ctx, `
        UPDATE file_references
        SET external_file_id = $4, external_private_url = NULLIF($5, ''), updated_at = now()
        WHERE user_id = $1 AND session_id = $2 AND name = $3
        RETURNING`+fileColumns,
		userID, sessionID, name, info.ExternalFileID, info.ExternalPrivateURL,
	)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Log.Warn("no file reference matched delivery update",
			"user_id", userID, "session_id", sessionID, "name", name)
		return nil, nil
	}
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "update external info", Err: err}
	}
	return &f, nil
}

// Paginate returns delivered references, most recently updated first. Pages are 1-based.
func (s *Storage) Paginate(ctx context.Context, userID domain.UserId, page, limit int) ([]domain.FileReference, error) {
	offset := (page - 1) * limit
	rows, err := s.db.QueryContext(ctx, `
        SELECT`+fileColumns+`
        FROM file_references
        WHERE user_id = $1
          AND external_file_id IS NOT NULL AND external_file_id <> ''
          AND external_private_url IS NOT NULL AND external_private_url <> ''
        ORDER BY updated_at DESC, id DESC
        LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "paginate", Err: err}
	}
	files, err := scanFiles(rows)
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "paginate", Err: err}
	}
	return files, nil
}

// Anonymize clears the external fields of the user's matching references and
// returns how many were modified.
func (s *Storage) Anonymize(ctx context.Context, userID domain.UserId, externalFileIDs []domain.FileId) (int64, error) {
	if len(externalFileIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE file_references
        SET external_file_id = NULL, external_private_url = NULL, updated_at = now()
        WHERE user_id = $1 AND external_file_id = ANY($2)`,
		userID, pq.Array(externalFileIDs),
	)
	if err != nil {
		return 0, &internal_errors.PersistenceError{Op: "anonymize", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &internal_errors.PersistenceError{Op: "anonymize", Err: err}
	}
	return n, nil
}

// MarkNotUploaded flags references whose staged bytes were removed without delivery.
func (s *Storage) MarkNotUploaded(ctx context.Context, sessionID domain.SessionId, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
        UPDATE file_references
        SET is_uploaded = FALSE, updated_at = now()
        WHERE session_id = $1 AND id = ANY($2)`,
		sessionID, pq.Array(ids),
	)
	if err != nil {
		return &internal_errors.PersistenceError{Op: "mark not uploaded", Err: err}
	}
	return nil
}

// StagedPaths lists local paths that are still owed to the chat service.
func (s *Storage) StagedPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT local_path FROM file_references
        WHERE is_uploaded AND external_file_id IS NULL`)
	if err != nil {
		return nil, &internal_errors.PersistenceError{Op: "staged paths", Err: err}
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &internal_errors.PersistenceError{Op: "staged paths", Err: err}
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal_errors.PersistenceError{Op: "staged paths", Err: err}
	}
	return paths, nil
}
