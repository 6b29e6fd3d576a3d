package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/picrelay/picrelay/backend/internal/imaging"
	"github.com/picrelay/picrelay/backend/internal/progress"
	"github.com/picrelay/picrelay/backend/internal/service"
	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/config"
	"github.com/picrelay/picrelay/shared/domain"
	mw "github.com/picrelay/picrelay/shared/middleware"
)

type MockUploader struct {
	MockReceive func(ctx context.Context, b service.Batch) (string, error)
}

func (m *MockUploader) Receive(ctx context.Context, b service.Batch) (string, error) {
	if m.MockReceive != nil {
		return m.MockReceive(ctx, b)
	}
	return "Received 0 files", nil
}

type MockImageGateway struct {
	MockPaginate     func(ctx context.Context, userID domain.UserId, page, limit int) (*api.ImagePage, error)
	MockFetchImage   func(ctx context.Context, userID domain.UserId, rawURL string, size imaging.Size) ([]byte, error)
	MockDownloadMany func(ctx context.Context, userID domain.UserId, files []api.DownloadFile, w io.Writer) error
}

func (m *MockImageGateway) Paginate(ctx context.Context, userID domain.UserId, page, limit int) (*api.ImagePage, error) {
	if m.MockPaginate != nil {
		return m.MockPaginate(ctx, userID, page, limit)
	}
	return &api.ImagePage{ImageUrls: []api.ImageEntry{}}, nil
}

func (m *MockImageGateway) FetchImage(ctx context.Context, userID domain.UserId, rawURL string, size imaging.Size) ([]byte, error) {
	if m.MockFetchImage != nil {
		return m.MockFetchImage(ctx, userID, rawURL, size)
	}
	return nil, nil
}

func (m *MockImageGateway) DownloadMany(ctx context.Context, userID domain.UserId, files []api.DownloadFile, w io.Writer) error {
	if m.MockDownloadMany != nil {
		return m.MockDownloadMany(ctx, userID, files, w)
	}
	return nil
}

type MockDeleter struct {
	MockDelete func(ctx context.Context, userID domain.UserId, entries []api.DeleteFileEntry) (string, error)
}

func (m *MockDeleter) Delete(ctx context.Context, userID domain.UserId, entries []api.DeleteFileEntry) (string, error) {
	if m.MockDelete != nil {
		return m.MockDelete(ctx, userID, entries)
	}
	return "", nil
}

type MockChannelClient struct {
	MockListChannels func(ctx context.Context) []domain.Channel
	MockJoinChannel  func(ctx context.Context, channelID domain.ChannelId) error
}

func (m *MockChannelClient) ListChannels(ctx context.Context) []domain.Channel {
	if m.MockListChannels != nil {
		return m.MockListChannels(ctx)
	}
	return nil
}

func (m *MockChannelClient) JoinChannel(ctx context.Context, channelID domain.ChannelId) error {
	if m.MockJoinChannel != nil {
		return m.MockJoinChannel(ctx, channelID)
	}
	return nil
}

func (m *MockChannelClient) UploadBatch(ctx context.Context, channelID domain.ChannelId, files []slackclient.UploadFile, comment string) ([]slackclient.UploadResult, error) {
	return nil, nil
}

func (m *MockChannelClient) DeleteFile(ctx context.Context, fileID domain.FileId) error {
	return nil
}

func (m *MockChannelClient) FetchFile(ctx context.Context, url string, w io.Writer) error {
	return nil
}

type MockHealthChecker struct {
	PingFunc func(ctx context.Context) error
}

func (m *MockHealthChecker) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func clientsFor(c service.ChannelClient, err error) service.ClientFactory {
	return service.ClientFactoryFunc(func(ctx context.Context, userID domain.UserId) (service.ChannelClient, error) {
		return c, err
	})
}

func testConfig() *config.Config {
	return &config.Config{Public: config.Public{
		UploadTimeoutMinutes:  1,
		MaxRequestSize:        10 << 20,
		MaxFilesPerRequest:    3,
		AllowedImageMimeTypes: []string{"image/jpeg", "image/png"},
		DefaultPageLimit:      20,
		MaxPageLimit:          100,
		SweepInterval:         time.Hour,
	}}
}

// newTestHandler returns a Handler whose collaborators all succeed by default.
func newTestHandler() *Handler {
	return New(
		&MockUploader{},
		&MockImageGateway{},
		&MockDeleter{},
		clientsFor(&MockChannelClient{}, nil),
		progress.NewRegistry(),
		&MockHealthChecker{},
		testConfig(),
	)
}

// asUser attaches an authenticated user the way the auth middleware does.
func asUser(req *http.Request, userID domain.UserId) *http.Request {
	return req.WithContext(mw.WithUser(req.Context(), &domain.User{Id: userID}))
}

func newRequest(method, target string, body io.Reader) *http.Request {
	return asUser(httptest.NewRequest(method, target, body), "U1")
}
