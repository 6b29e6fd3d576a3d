// Package slackclient talks to the Slack Web API on behalf of one credential.
package slackclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/picrelay/picrelay/shared/config"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
	"github.com/sethvargo/go-retry"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"
)

// API is the part of *slack.Client the relay uses.
type API interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	GetUploadURLExternalContext(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error)
	CompleteUploadExternalContext(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	DeleteFileContext(ctx context.Context, fileID string) error
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

var _ API = (*slack.Client)(nil)

// UploadFile is one staged file of a delivery batch.
type UploadFile struct {
	Filename  string
	LocalPath string
}

// UploadResult is what Slack assigned to the file at the same position.
type UploadResult struct {
	ExternalFileID     domain.FileId
	ExternalPrivateURL string
}

type Client struct {
	api        API
	httpClient *http.Client
	workers    int
	maxRetries uint64
	backoff    time.Duration
	log        *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = base
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(api API, workers int, opts ...Option) *Client {
	if workers < 1 {
		workers = 1
	}
	c := &Client{
		api:        api,
		httpClient: http.DefaultClient,
		workers:    workers,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		log:        logger.Log.With("component", "slackclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withRetry runs a read-only call, retrying while Slack reports a transient failure.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		ext := classify(op, err)
		if ext.Retryable {
			c.log.Debug("retrying slack call", "op", op, "error", err)
			return retry.RetryableError(ext)
		}
		return ext
	})
}

// ListChannels returns the public and private channels visible to the
// credential. Any failure is logged and yields an empty list.
func (c *Client) ListChannels(ctx context.Context) []domain.Channel {
	channels, err := c.listChannels(ctx)
	if err != nil {
		c.log.Warn("listing channels failed", "error", err)
		return []domain.Channel{}
	}
	return channels
}

func (c *Client) listChannels(ctx context.Context) ([]domain.Channel, error) {
	var all []slack.Channel
	cursor := ""
	for {
		var (
			page []slack.Channel
			next string
		)
		err := c.withRetry(ctx, "conversations.list", func(ctx context.Context) error {
			var err error
			page, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				ExcludeArchived: true,
				Limit:           200,
				Types:           []string{"public_channel", "private_channel"},
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	result := make([]domain.Channel, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, ch := range all {
		result[i] = domain.Channel{ID: ch.ID, Name: ch.Name}
		g.Go(func() error {
			var info *slack.Channel
			err := c.withRetry(gctx, "conversations.info", func(ctx context.Context) error {
				var err error
				info, err = c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: ch.ID})
				return err
			})
			if err != nil {
				return fmt.Errorf("membership of %s: %w", ch.ID, err)
			}
			result[i].IsMember = info.IsMember
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// JoinChannel adds the credential's user to the channel. Joining a channel
// already joined succeeds.
func (c *Client) JoinChannel(ctx context.Context, channelID domain.ChannelId) error {
	if _, _, _, err := c.api.JoinConversationContext(ctx, channelID); err != nil {
		return classify("conversations.join", err)
	}
	return nil
}

// UploadBatch posts files as a single message with comment. Results are in
// input order. The batch is not retried: a second attempt would post twice.
// Once the message is posted no error is returned; a result whose URL could
// not be looked up has an empty ExternalPrivateURL.
func (c *Client) UploadBatch(ctx context.Context, channelID domain.ChannelId, files []UploadFile, comment string) ([]UploadResult, error) {
	if len(files) == 0 {
		return nil, internal_errors.NewValidation("empty delivery batch")
	}

	summaries := make([]slack.FileSummary, 0, len(files))
	for _, f := range files {
		id, err := c.stageExternal(ctx, f)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, slack.FileSummary{ID: id, Title: f.Filename})
	}

	resp, err := c.api.CompleteUploadExternalContext(ctx, slack.CompleteUploadExternalParameters{
		Files:          summaries,
		Channel:        channelID,
		InitialComment: comment,
	})
	if err != nil {
		return nil, classify("files.completeUploadExternal", err)
	}
	if err := checkOrder(summaries, resp.Files); err != nil {
		return nil, err
	}

	// the message is posted from here on, so lookups only degrade single results
	results := make([]UploadResult, len(summaries))
	for i, s := range summaries {
		results[i] = UploadResult{ExternalFileID: s.ID}
		var file *slack.File
		err := c.withRetry(ctx, "files.info", func(ctx context.Context) error {
			var err error
			file, _, _, err = c.api.GetFileInfoContext(ctx, s.ID, 0, 0)
			return err
		})
		if err != nil {
			c.log.Warn("posted file url unknown", "file_id", s.ID, "error", err)
			continue
		}
		if file.ID != s.ID || file.URLPrivate == "" {
			c.log.Warn("posted file url unknown", "file_id", s.ID, "returned_id", file.ID)
			continue
		}
		results[i].ExternalPrivateURL = file.URLPrivate
	}
	return results, nil
}

// stageExternal reserves an upload URL for f and sends its bytes there.
func (c *Client) stageExternal(ctx context.Context, f UploadFile) (string, error) {
	src, err := os.Open(f.LocalPath)
	if err != nil {
		return "", fmt.Errorf("open staged file %s: %w", f.Filename, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat staged file %s: %w", f.Filename, err)
	}

	reserved, err := c.api.GetUploadURLExternalContext(ctx, slack.GetUploadURLExternalParameters{
		FileName: f.Filename,
		FileSize: int(info.Size()),
	})
	if err != nil {
		return "", classify("files.getUploadURLExternal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reserved.UploadURL, src)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify("upload", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", classify("upload", slack.StatusCodeError{Code: resp.StatusCode, Status: resp.Status})
	}
	return reserved.FileID, nil
}

// checkOrder rejects a completion response that does not echo the files
// position by position.
func checkOrder(sent, got []slack.FileSummary) error {
	if len(sent) != len(got) {
		return &internal_errors.ExternalServiceError{
			Op:  "files.completeUploadExternal",
			Err: fmt.Errorf("sent %d files, slack confirmed %d", len(sent), len(got)),
		}
	}
	for i := range sent {
		if sent[i].ID != got[i].ID {
			return &internal_errors.ExternalServiceError{
				Op:  "files.completeUploadExternal",
				Err: fmt.Errorf("position %d: sent %s, slack confirmed %s", i, sent[i].ID, got[i].ID),
			}
		}
	}
	return nil
}

// DeleteFile removes a file from Slack. A file that is already gone counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, fileID domain.FileId) error {
	err := c.api.DeleteFileContext(ctx, fileID)
	switch apiErrorCode(err) {
	case "file_not_found", "file_deleted":
		c.log.Info("file already deleted", "file_id", fileID)
		return nil
	}
	if err != nil {
		return classify("files.delete", err)
	}
	return nil
}

// FetchFile downloads a private file URL with the credential's token.
func (c *Client) FetchFile(ctx context.Context, url string, w io.Writer) error {
	if err := c.api.GetFileContext(ctx, url, w); err != nil {
		return classify("download", err)
	}
	return nil
}

// Factory builds clients for the credential of a given user.
type Factory struct {
	creds   CredentialProvider
	cfg     config.Slack
	newAPI  func(token string) API
	options []Option
}

func NewFactory(creds CredentialProvider, cfg config.Slack, opts ...Option) *Factory {
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	f := &Factory{creds: creds, cfg: cfg, options: append([]Option{WithHTTPClient(hc)}, opts...)}
	f.newAPI = func(token string) API {
		apiOpts := []slack.Option{slack.OptionHTTPClient(hc)}
		if cfg.APIURL != "" {
			apiOpts = append(apiOpts, slack.OptionAPIURL(cfg.APIURL))
		}
		return slack.New(token, apiOpts...)
	}
	return f
}

// ForUser returns a client acting with userID's credential.
func (f *Factory) ForUser(ctx context.Context, userID domain.UserId) (*Client, error) {
	token, err := f.creds.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("empty slack token")
	}
	return New(f.newAPI(token), f.cfg.MembershipWorkers, f.options...), nil
}
