package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/picrelay/picrelay/backend/internal/progress"
	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
	"github.com/picrelay/picrelay/shared/middleware/metrics"
	"golang.org/x/text/language"
)

type EngineStorage interface {
	ReadAllBySession(ctx context.Context, sessionID domain.SessionId) ([]domain.FileReference, error)
	UpdateWithExternalInfo(ctx context.Context, userID domain.UserId, sessionID domain.SessionId, name string, info domain.ExternalInfo) (*domain.FileReference, error)
}

// Delivery is one invocation of the engine.
type Delivery struct {
	SessionID        domain.SessionId
	UserID           domain.UserId
	Channel          domain.ChannelId
	MessageBatchSize int
	Comment          string
}

// Engine relays the staged files of a session to a channel in
// message-sized batches, strictly one batch at a time.
type Engine struct {
	storage EngineStorage
	locale  language.Tag
}

func NewEngine(storage EngineStorage, locale language.Tag) *Engine {
	return &Engine{storage: storage, locale: locale}
}

// Partition splits refs into consecutive chunks of k; the last may be shorter.
func Partition(refs []domain.FileReference, k int) [][]domain.FileReference {
	return slices.Collect(slices.Chunk(refs, k))
}

// Run delivers every pending file of the session and returns the ones that
// were delivered and recorded with their URL. On a batch failure it returns the files of the
// earlier batches together with the error.
//
// The context is checked between batches only. A batch already sent to the
// chat service runs to completion even if ctx is cancelled.
func (e *Engine) Run(ctx context.Context, client ChannelClient, d Delivery, sink progress.Sink) ([]domain.FileReference, error) {
	log := logger.ForSession(d.SessionID, d.UserID)
	if d.MessageBatchSize < 1 {
		return nil, internal_errors.NewValidation("messageBatchSize must be a positive integer")
	}
	if d.Channel == "" {
		return nil, internal_errors.NewValidation("channel is required")
	}

	log.Info("delivery pending")
	all, err := e.storage.ReadAllBySession(ctx, d.SessionID)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.FileReference, 0, len(all))
	for _, ref := range all {
		if ref.UserID == d.UserID && ref.Pending() {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, &internal_errors.NoFilesError{SessionID: d.SessionID}
	}

	log.Debug("delivery sorting", "files", len(refs))
	SortByName(refs, e.locale)

	batches := Partition(refs, d.MessageBatchSize)
	total := len(refs)
	done := 0
	processed := make([]domain.FileReference, 0, total)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			log.Warn("delivery stopped", "completed_batches", i, "batches", len(batches), "error", err)
			return processed, fmt.Errorf("delivery stopped before batch %d of %d: %w", i+1, len(batches), err)
		}

		log.Info("delivery uploading", "batch", i+1, "batches", len(batches), "files", len(batch))
		files := make([]slackclient.UploadFile, len(batch))
		for j, ref := range batch {
			files[j] = slackclient.UploadFile{Filename: ref.Name, LocalPath: ref.LocalPath}
		}
		results, err := client.UploadBatch(context.WithoutCancel(ctx), d.Channel, files, d.Comment)
		if err == nil && len(results) != len(batch) {
			err = &internal_errors.ExternalServiceError{
				Op:  "upload",
				Err: fmt.Errorf("%d results for %d files", len(results), len(batch)),
			}
		}
		if err != nil {
			metrics.DeliveryBatches.WithLabelValues("failed").Inc()
			log.Error("delivery failed", "batch", i+1, "batches", len(batches), "error", err)
			return processed, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		metrics.DeliveryBatches.WithLabelValues("delivered").Inc()
		metrics.FilesDelivered.Add(float64(len(batch)))

		log.Info("delivery updating", "batch", i+1, "batches", len(batches))
		updateCtx := context.WithoutCancel(ctx)
		for j, ref := range batch {
			updated, err := e.storage.UpdateWithExternalInfo(updateCtx, d.UserID, d.SessionID, ref.Name, domain.ExternalInfo{
				ExternalFileID:     results[j].ExternalFileID,
				ExternalPrivateURL: results[j].ExternalPrivateURL,
			})
			if err != nil {
				metrics.UnconfirmedFiles.Inc()
				log.Warn("delivered file left unconfirmed", "name", ref.Name, "external_file_id", results[j].ExternalFileID, "error", err)
				continue
			}
			if updated == nil || !updated.Delivered() {
				metrics.UnconfirmedFiles.Inc()
				if updated != nil {
					log.Warn("delivered file has no url", "name", ref.Name, "external_file_id", results[j].ExternalFileID)
				}
				continue
			}
			processed = append(processed, *updated)
		}

		done += len(batch)
		percent := float64(done) * 100 / float64(total)
		if done == total {
			percent = 100
		}
		if sink != nil {
			sink(percent)
		}
	}

	log.Info("delivery complete", "files", total, "recorded", len(processed), "batches", len(batches))
	return processed, nil
}
