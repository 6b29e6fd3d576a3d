package setup

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/picrelay/picrelay/backend/internal/handler"
	"github.com/picrelay/picrelay/backend/internal/imaging"
	"github.com/picrelay/picrelay/backend/internal/progress"
	"github.com/picrelay/picrelay/backend/internal/service"
	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/backend/internal/storage/fs"
	"github.com/picrelay/picrelay/backend/internal/storage/pg"
	"github.com/picrelay/picrelay/shared/config"
	"github.com/picrelay/picrelay/shared/jwt"
	mw "github.com/picrelay/picrelay/shared/middleware"
	"github.com/picrelay/picrelay/shared/paramstore"
)

// JwtKeyName is the param store entry holding the JWT signing key.
const JwtKeyName = "jwt_key"

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Config         *config.Config
	Storage        *pg.Storage
	Staging        *fs.Storage
	Params         paramstore.Store
	Handler        *handler.Handler
	AuthMiddleware *mw.Auth
	Jwt            jwt.JwtService
	Sweeper        *service.StagingSweeper
}

// NewParamStore returns the configured parameter backend.
func NewParamStore(ctx context.Context, cfg config.ParamStore) (paramstore.Store, error) {
	switch cfg.Backend {
	case "env", "":
		return paramstore.NewEnv(), nil
	case "ssm":
		return paramstore.NewSSMFromDefaults(ctx, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown param store backend %q", cfg.Backend)
	}
}

// ResolveJwtKey prefers the key from private.yaml and falls back to the param store.
func ResolveJwtKey(ctx context.Context, cfg *config.Config, params paramstore.Store) (string, error) {
	if cfg.Private.JwtKey != "" {
		return cfg.Private.JwtKey, nil
	}
	name := paramstore.Join(cfg.Public.ParamStore.Prefix, JwtKeyName)
	key, err := params.GetValue(ctx, name)
	if err != nil {
		return "", fmt.Errorf("jwt key %s: %w", name, err)
	}
	return key, nil
}

// NewSweeper builds the staging sweeper over already opened stores.
func NewSweeper(cfg *config.Config, storage *pg.Storage, staging *fs.Storage) *service.StagingSweeper {
	return service.NewStagingSweeper(storage, staging, cfg.Public.SweepSafetyThreshold)
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if err := imaging.CheckMimeTypes(cfg.Public.AllowedImageMimeTypes); err != nil {
		return nil, err
	}
	params, err := NewParamStore(ctx, cfg.Public.ParamStore)
	if err != nil {
		return nil, err
	}
	jwtKey, err := ResolveJwtKey(ctx, cfg, params)
	if err != nil {
		return nil, err
	}

	storage, err := pg.New(ctx, cfg.Private.Pg)
	if err != nil {
		return nil, err
	}
	staging, err := fs.New(cfg.Public.StagingDir)
	if err != nil {
		storage.Cleanup()
		return nil, err
	}

	creds, err := slackclient.NewCredentialProvider(cfg.Public.Slack.CredentialMode, params, cfg.Public.ParamStore.Prefix)
	if err != nil {
		storage.Cleanup()
		return nil, err
	}
	clients := service.SlackClients(slackclient.NewFactory(creds, cfg.Public.Slack, slackclient.WithRetry(3, 500*time.Millisecond)))

	registry := progress.NewRegistry()
	engine := service.NewEngine(storage, language.Und)
	uploads := service.NewUploads(storage, staging, engine, clients, registry)
	resizer := imaging.NewResizer(cfg.Public.ThumbnailSize, cfg.Public.PreviewMaxWidth, cfg.Public.MaxDecodedImageSize)
	gateway := service.NewGateway(storage, clients, resizer, service.GatewayConfig{
		MaxPageLimit:     cfg.Public.MaxPageLimit,
		MaxDownloadFiles: cfg.Public.MaxDownloadFiles,
		AllowedHosts:     cfg.Public.Slack.AllowedProxyHosts,
	})
	deletion := service.NewDeletion(storage, clients)

	jwtService := jwt.New(jwtKey, cfg.JwtTTL())
	h := handler.New(uploads, gateway, deletion, clients, registry, storage, cfg)

	return &Dependencies{
		Config:         cfg,
		Storage:        storage,
		Staging:        staging,
		Params:         params,
		Handler:        h,
		AuthMiddleware: mw.NewAuth(jwtService),
		Jwt:            jwtService,
		Sweeper:        NewSweeper(cfg, storage, staging),
	}, nil
}

func (d *Dependencies) Cleanup() {
	d.Storage.Cleanup()
}
