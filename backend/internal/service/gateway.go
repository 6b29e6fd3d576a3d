package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/picrelay/picrelay/backend/internal/imaging"
	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
)

type GatewayStorage interface {
	Paginate(ctx context.Context, userID domain.UserId, page, limit int) ([]domain.FileReference, error)
}

type GatewayConfig struct {
	MaxPageLimit     int
	MaxDownloadFiles int
	AllowedHosts     []string
}

// Gateway serves delivered files back to their owner.
type Gateway struct {
	storage      GatewayStorage
	clients      ClientFactory
	resizer      *imaging.Resizer
	allowedHosts map[string]struct{}
	cfg          GatewayConfig
}

func NewGateway(storage GatewayStorage, clients ClientFactory, resizer *imaging.Resizer, cfg GatewayConfig) *Gateway {
	hosts := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return &Gateway{storage: storage, clients: clients, resizer: resizer, allowedHosts: hosts, cfg: cfg}
}

// Paginate returns one page of delivered files, most recent first. NextPage is
// nil once a page comes back short.
func (g *Gateway) Paginate(ctx context.Context, userID domain.UserId, page, limit int) (*api.ImagePage, error) {
	if page < 1 {
		return nil, internal_errors.NewValidation("page must be a positive integer")
	}
	if limit < 1 {
		return nil, internal_errors.NewValidation("limit must be a positive integer")
	}
	limit = min(limit, g.cfg.MaxPageLimit)

	refs, err := g.storage.Paginate(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}

	result := &api.ImagePage{ImageUrls: make([]api.ImageEntry, 0, len(refs))}
	for _, ref := range refs {
		if !ref.Delivered() {
			continue
		}
		result.ImageUrls = append(result.ImageUrls, api.ImageEntry{
			URL:    *ref.ExternalPrivateURL,
			Name:   ref.Name,
			FileID: *ref.ExternalFileID,
		})
	}
	if len(refs) == limit {
		next := page + 1
		result.NextPage = &next
	}
	return result, nil
}

// checkURL accepts only https URLs on the chat service's file hosts.
func (g *Gateway) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return internal_errors.NewValidation("imageUrl must be an https URL")
	}
	if _, ok := g.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
		return internal_errors.NewValidation("imageUrl host %q is not allowed", u.Hostname())
	}
	return nil
}

// FetchImage downloads an image with the caller's credential and renders it
// as WebP at the requested size.
func (g *Gateway) FetchImage(ctx context.Context, userID domain.UserId, rawURL string, size imaging.Size) ([]byte, error) {
	if err := g.checkURL(rawURL); err != nil {
		return nil, err
	}
	client, err := g.clients.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var original bytes.Buffer
	if err := client.FetchFile(ctx, rawURL, &original); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := g.resizer.Render(original.Bytes(), size, &out); err != nil {
		return nil, fmt.Errorf("render %s: %w", size, err)
	}
	return out.Bytes(), nil
}

// ValidateDownload checks a bulk download request before anything is written.
func (g *Gateway) ValidateDownload(files []api.DownloadFile) error {
	if len(files) == 0 {
		return internal_errors.NewValidation("no files requested")
	}
	if len(files) > g.cfg.MaxDownloadFiles {
		return internal_errors.NewValidation("at most %d files per download", g.cfg.MaxDownloadFiles)
	}
	return nil
}

// DownloadMany streams a zip of files to w. Files that cannot be fetched are
// logged and left out; the archive is always finalized.
func (g *Gateway) DownloadMany(ctx context.Context, userID domain.UserId, files []api.DownloadFile, w io.Writer) error {
	if err := g.ValidateDownload(files); err != nil {
		return err
	}
	client, err := g.clients.ForUser(ctx, userID)
	if err != nil {
		return err
	}

	log := logger.Log.With("user_id", userID)
	zw := zip.NewWriter(w)
	names := newEntryNames()
	written := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := g.checkURL(f.URL); err != nil {
			log.Warn("zip entry skipped", "name", f.Name, "error", err)
			continue
		}

		var buf bytes.Buffer
		if err := client.FetchFile(ctx, f.URL, &buf); err != nil {
			log.Warn("zip entry skipped", "name", f.Name, "error", err)
			continue
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names.unique(f.Name),
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		if _, err := entry.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	log.Info("zip download finished", "requested", len(files), "written", written)
	return nil
}

// entryNames keeps archive entry names flat and unique.
type entryNames struct {
	seen map[string]int
}

func newEntryNames() *entryNames {
	return &entryNames{seen: make(map[string]int)}
}

func (n *entryNames) unique(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	key := strings.ToLower(base)
	count := n.seen[key]
	n.seen[key] = count + 1
	if count == 0 {
		return base
	}
	ext := path.Ext(base)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), count, ext)
	// a literal "a (1).jpg" may already be taken
	for n.seen[strings.ToLower(candidate)] > 0 {
		count++
		candidate = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), count, ext)
	}
	n.seen[strings.ToLower(candidate)] = 1
	return candidate
}
