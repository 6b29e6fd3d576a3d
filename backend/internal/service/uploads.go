package service

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/picrelay/picrelay/backend/internal/progress"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
)

type UploadStorage interface {
	EngineStorage
	Write(ctx context.Context, details domain.FileDetails) (*domain.FileReference, error)
	MarkNotUploaded(ctx context.Context, sessionID domain.SessionId, ids []int64) error
}

// Staging is where received bytes wait until they are delivered.
type Staging interface {
	Save(data io.Reader, originalFilename string) (string, int64, error)
	DeleteFile(path string) error
}

// Batch is one HTTP submission of an upload session.
type Batch struct {
	UserID           domain.UserId
	SessionID        domain.SessionId
	Channel          domain.ChannelId
	Comment          string
	MessageBatchSize int
	IsLastBatch      bool
	Files            []*domain.PendingFile
}

// Uploads receives upload batches and, on the last one, hands the session to
// the engine.
type Uploads struct {
	storage  UploadStorage
	staging  Staging
	engine   *Engine
	clients  ClientFactory
	progress *progress.Registry
	policy   *bluemonday.Policy
}

func NewUploads(storage UploadStorage, staging Staging, engine *Engine, clients ClientFactory, registry *progress.Registry) *Uploads {
	return &Uploads{
		storage:  storage,
		staging:  staging,
		engine:   engine,
		clients:  clients,
		progress: registry,
		policy:   bluemonday.StrictPolicy(),
	}
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// CleanComment strips markup from a user comment and escapes the characters
// Slack reserves for its own formatting.
func (u *Uploads) CleanComment(comment string) string {
	text := html.UnescapeString(u.policy.Sanitize(comment))
	return slackEscaper.Replace(strings.TrimSpace(text))
}

func (u *Uploads) Receive(ctx context.Context, b Batch) (string, error) {
	defer closeAll(b.Files)

	if b.SessionID == "" {
		return "", internal_errors.NewValidation("sessionID is required")
	}
	if b.IsLastBatch {
		if b.Channel == "" {
			return "", internal_errors.NewValidation("channel is required on the last batch")
		}
		if b.MessageBatchSize < 1 {
			return "", internal_errors.NewValidation("messageBatchSize must be a positive integer")
		}
	}

	if err := uniqueNames(b.Files); err != nil {
		return "", err
	}

	staged, err := u.stage(ctx, b)
	if err != nil {
		return "", err
	}
	if !b.IsLastBatch {
		return fmt.Sprintf("Received %d files", staged), nil
	}

	defer u.progress.Finish(b.UserID, b.SessionID)
	defer u.finishSession(ctx, b.SessionID, b.UserID)

	client, err := u.clients.ForUser(ctx, b.UserID)
	if err != nil {
		return "", err
	}
	processed, err := u.engine.Run(ctx, client, Delivery{
		SessionID:        b.SessionID,
		UserID:           b.UserID,
		Channel:          b.Channel,
		MessageBatchSize: b.MessageBatchSize,
		Comment:          u.CleanComment(b.Comment),
	}, u.progress.SinkFor(b.UserID, b.SessionID))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Delivered %d files", len(processed)), nil
}

// uniqueNames rejects a batch carrying two parts with the same filename. The
// name identifies a file within its session.
func uniqueNames(files []*domain.PendingFile) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := seen[f.Filename]; ok {
			return internal_errors.NewValidation("duplicate filename %q in batch", f.Filename)
		}
		seen[f.Filename] = struct{}{}
	}
	return nil
}

// stage saves and registers every file of the batch and returns how many are
// now owed to the chat service. A file the chat service already holds is not
// registered again. On failure the files staged by this call are removed again.
func (u *Uploads) stage(ctx context.Context, b Batch) (int, error) {
	log := logger.ForSession(b.SessionID, b.UserID)
	var (
		paths []string
		ids   []int64
	)
	rollback := func(err error) (int, error) {
		for _, p := range paths {
			if rmErr := u.staging.DeleteFile(p); rmErr != nil {
				log.Warn("failed to remove staged file", "path", p, "error", rmErr)
			}
		}
		if len(ids) > 0 {
			if mErr := u.storage.MarkNotUploaded(context.WithoutCancel(ctx), b.SessionID, ids); mErr != nil {
				log.Error("failed to mark rolled back files", "error", mErr)
			}
		}
		return 0, err
	}

	for _, f := range b.Files {
		path, size, err := u.staging.Save(f.Data, f.Filename)
		if err != nil {
			return rollback(fmt.Errorf("stage %s: %w", f.Filename, err))
		}

		ref, err := u.storage.Write(ctx, domain.FileDetails{
			Name:             f.Filename,
			LocalPath:        path,
			Size:             size,
			SessionID:        b.SessionID,
			UserID:           b.UserID,
			MimeType:         f.MimeType,
			LastModifiedDate: f.LastModifiedDate,
		})
		if err != nil {
			paths = append(paths, path)
			return rollback(err)
		}
		if ref == nil {
			log.Info("file already delivered, skipping", "name", f.Filename)
			if rmErr := u.staging.DeleteFile(path); rmErr != nil {
				log.Warn("failed to remove staged file", "path", path, "error", rmErr)
			}
			continue
		}
		paths = append(paths, path)
		ids = append(ids, ref.Id)
	}
	log.Debug("batch staged", "files", len(paths))
	return len(paths), nil
}

// finishSession removes the staged bytes of the whole session once the
// engine is done and marks the references as no longer held on the server.
func (u *Uploads) finishSession(ctx context.Context, sessionID domain.SessionId, userID domain.UserId) {
	ctx = context.WithoutCancel(ctx)
	log := logger.ForSession(sessionID, userID)

	refs, err := u.storage.ReadAllBySession(ctx, sessionID)
	if err != nil {
		log.Error("session cleanup: failed to read references", "error", err)
		return
	}
	var (
		removed     []int64
		undelivered int
	)
	for _, ref := range refs {
		if ref.UserID != userID || !ref.IsUploaded {
			continue
		}
		if err := u.staging.DeleteFile(ref.LocalPath); err != nil {
			log.Warn("session cleanup: failed to remove staged file", "path", ref.LocalPath, "error", err)
			continue
		}
		removed = append(removed, ref.Id)
		if !ref.Delivered() {
			undelivered++
		}
	}
	if err := u.storage.MarkNotUploaded(ctx, sessionID, removed); err != nil {
		log.Error("session cleanup: failed to mark removed files", "error", err)
		return
	}
	if undelivered > 0 {
		log.Warn("session finished with undelivered files", "count", undelivered)
	}
}

func closeAll(files []*domain.PendingFile) {
	for _, f := range files {
		if c, ok := f.Data.(io.Closer); ok {
			c.Close()
		}
	}
}
