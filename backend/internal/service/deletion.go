package service

import (
	"context"
	"fmt"

	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
	"github.com/picrelay/picrelay/shared/middleware/metrics"
)

type DeletionStorage interface {
	Anonymize(ctx context.Context, userID domain.UserId, externalFileIDs []domain.FileId) (int64, error)
}

type Deletion struct {
	storage DeletionStorage
	clients ClientFactory
}

func NewDeletion(storage DeletionStorage, clients ClientFactory) *Deletion {
	return &Deletion{storage: storage, clients: clients}
}

// scopeOf returns the one scope shared by every entry.
func scopeOf(entries []api.DeleteFileEntry) (domain.DeleteScope, []domain.FileId, error) {
	if len(entries) == 0 {
		return "", nil, internal_errors.NewValidation("no files to delete")
	}
	scope := entries[0].DeleteFlag
	ids := make([]domain.FileId, 0, len(entries))
	for _, e := range entries {
		if !e.DeleteFlag.Valid() {
			return "", nil, internal_errors.NewValidation("invalid deleteFlag %q", e.DeleteFlag)
		}
		if e.DeleteFlag != scope {
			return "", nil, internal_errors.NewValidation("all files in one request must share a deleteFlag")
		}
		if e.ID == "" {
			return "", nil, internal_errors.NewValidation("file id is required")
		}
		ids = append(ids, e.ID)
	}
	return scope, ids, nil
}

// Delete removes files from the gallery and, for ScopeRemoteAndLocal, from
// the chat service first. A failed remote delete stops the request before
// anything local changes.
func (d *Deletion) Delete(ctx context.Context, userID domain.UserId, entries []api.DeleteFileEntry) (string, error) {
	scope, ids, err := scopeOf(entries)
	if err != nil {
		return "", err
	}
	log := logger.Log.With("user_id", userID, "scope", string(scope))

	if scope == domain.ScopeRemoteAndLocal {
		client, err := d.clients.ForUser(ctx, userID)
		if err != nil {
			return "", err
		}
		for i, id := range ids {
			if err := client.DeleteFile(ctx, id); err != nil {
				metrics.FilesDeleted.WithLabelValues("remote").Add(float64(i))
				log.Error("remote delete failed", "file_id", id, "deleted_before", i, "error", err)
				return "", fmt.Errorf("delete %s: %w", id, err)
			}
		}
		metrics.FilesDeleted.WithLabelValues("remote").Add(float64(len(ids)))
	}

	n, err := d.storage.Anonymize(ctx, userID, ids)
	if err != nil {
		return "", err
	}
	metrics.FilesDeleted.WithLabelValues("local").Add(float64(n))
	log.Info("files deleted", "requested", len(ids), "anonymized", n)
	return fmt.Sprintf("Deleted %d of %d files", n, len(ids)), nil
}
