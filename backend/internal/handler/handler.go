package handler

import (
	"context"
	"io"

	"github.com/picrelay/picrelay/backend/internal/imaging"
	"github.com/picrelay/picrelay/backend/internal/progress"
	"github.com/picrelay/picrelay/backend/internal/service"
	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/config"
	"github.com/picrelay/picrelay/shared/domain"
)

type Uploader interface {
	Receive(ctx context.Context, b service.Batch) (string, error)
}

type ImageGateway interface {
	Paginate(ctx context.Context, userID domain.UserId, page, limit int) (*api.ImagePage, error)
	FetchImage(ctx context.Context, userID domain.UserId, rawURL string, size imaging.Size) ([]byte, error)
	DownloadMany(ctx context.Context, userID domain.UserId, files []api.DownloadFile, w io.Writer) error
}

type Deleter interface {
	Delete(ctx context.Context, userID domain.UserId, entries []api.DeleteFileEntry) (string, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	uploads  Uploader
	gateway  ImageGateway
	deletion Deleter
	clients  service.ClientFactory
	progress *progress.Registry
	health   HealthChecker
	cfg      *config.Config
}

func New(
	uploads Uploader,
	gateway ImageGateway,
	deletion Deleter,
	clients service.ClientFactory,
	registry *progress.Registry,
	health HealthChecker,
	cfg *config.Config,
) *Handler {
	return &Handler{
		uploads:  uploads,
		gateway:  gateway,
		deletion: deletion,
		clients:  clients,
		progress: registry,
		health:   health,
		cfg:      cfg,
	}
}
