package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/shared/domain"
)

// MockFileStorage mocks every storage interface of the package. Unset
// functions fall back to an in-memory table keyed by id.
type MockFileStorage struct {
	mu    sync.Mutex
	files map[int64]*domain.FileReference
	next  int64

	writeFunc           func(ctx context.Context, details domain.FileDetails) (*domain.FileReference, error)
	readAllFunc         func(ctx context.Context, sessionID domain.SessionId) ([]domain.FileReference, error)
	updateFunc          func(ctx context.Context, userID domain.UserId, sessionID domain.SessionId, name string, info domain.ExternalInfo) (*domain.FileReference, error)
	paginateFunc        func(ctx context.Context, userID domain.UserId, page, limit int) ([]domain.FileReference, error)
	anonymizeFunc       func(ctx context.Context, userID domain.UserId, ids []domain.FileId) (int64, error)
	markNotUploadedFunc func(ctx context.Context, sessionID domain.SessionId, ids []int64) error
	stagedPathsFunc     func(ctx context.Context) ([]string, error)

	updates []domain.ExternalInfo
}

func NewMockFileStorage() *MockFileStorage {
	return &MockFileStorage{files: make(map[int64]*domain.FileReference)}
}

// seed adds a staged reference for every name.
func (m *MockFileStorage) seed(userID domain.UserId, sessionID domain.SessionId, names ...string) {
	for _, n := range names {
		m.Write(context.Background(), domain.FileDetails{
			Name: n, LocalPath: "/staging/" + n, Size: 1, SessionID: sessionID, UserID: userID, MimeType: "image/jpeg",
		})
	}
}

func (m *MockFileStorage) Write(ctx context.Context, details domain.FileDetails) (*domain.FileReference, error) {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, details)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.UserID == details.UserID && f.SessionID == details.SessionID && f.Name == details.Name {
			if f.Posted() {
				return nil, nil
			}
			f.LocalPath = details.LocalPath
			f.IsUploaded = true
			f.ExternalFileID, f.ExternalPrivateURL = nil, nil
			cp := *f
			return &cp, nil
		}
	}
	m.next++
	f := &domain.FileReference{
		Id: m.next, Name: details.Name, LocalPath: details.LocalPath, Size: details.Size,
		SessionID: details.SessionID, UserID: details.UserID, MimeType: details.MimeType,
		LastModifiedDate: details.LastModifiedDate, IsUploaded: true,
	}
	m.files[f.Id] = f
	cp := *f
	return &cp, nil
}

func (m *MockFileStorage) ReadAllBySession(ctx context.Context, sessionID domain.SessionId) ([]domain.FileReference, error) {
	if m.readAllFunc != nil {
		return m.readAllFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FileReference
	// map order is random, which is what callers must cope with
	for _, f := range m.files {
		if f.SessionID == sessionID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *MockFileStorage) UpdateWithExternalInfo(ctx context.Context, userID domain.UserId, sessionID domain.SessionId, name string, info domain.ExternalInfo) (*domain.FileReference, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, userID, sessionID, name, info)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, info)
	for _, f := range m.files {
		if f.UserID == userID && f.SessionID == sessionID && f.Name == name {
			id, url := info.ExternalFileID, info.ExternalPrivateURL
			f.ExternalFileID, f.ExternalPrivateURL = &id, nil
			if url != "" {
				f.ExternalPrivateURL = &url
			}
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockFileStorage) Paginate(ctx context.Context, userID domain.UserId, page, limit int) ([]domain.FileReference, error) {
	if m.paginateFunc != nil {
		return m.paginateFunc(ctx, userID, page, limit)
	}
	return nil, nil
}

func (m *MockFileStorage) Anonymize(ctx context.Context, userID domain.UserId, ids []domain.FileId) (int64, error) {
	if m.anonymizeFunc != nil {
		return m.anonymizeFunc(ctx, userID, ids)
	}
	return int64(len(ids)), nil
}

func (m *MockFileStorage) MarkNotUploaded(ctx context.Context, sessionID domain.SessionId, ids []int64) error {
	if m.markNotUploadedFunc != nil {
		return m.markNotUploadedFunc(ctx, sessionID, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if f, ok := m.files[id]; ok {
			f.IsUploaded = false
		}
	}
	return nil
}

func (m *MockFileStorage) StagedPaths(ctx context.Context) ([]string, error) {
	if m.stagedPathsFunc != nil {
		return m.stagedPathsFunc(ctx)
	}
	return nil, nil
}

// MockChannelClient records delivery batches and hands out sequential file ids.
type MockChannelClient struct {
	mu      sync.Mutex
	batches [][]string
	deleted []domain.FileId
	next    int

	uploadFunc func(ctx context.Context, channelID domain.ChannelId, files []slackclient.UploadFile, comment string) ([]slackclient.UploadResult, error)
	deleteFunc func(ctx context.Context, fileID domain.FileId) error
	fetchFunc  func(ctx context.Context, url string, w io.Writer) error
	channels   []domain.Channel
	joinFunc   func(ctx context.Context, channelID domain.ChannelId) error
}

func (m *MockChannelClient) ListChannels(ctx context.Context) []domain.Channel {
	return m.channels
}

func (m *MockChannelClient) JoinChannel(ctx context.Context, channelID domain.ChannelId) error {
	if m.joinFunc != nil {
		return m.joinFunc(ctx, channelID)
	}
	return nil
}

func (m *MockChannelClient) UploadBatch(ctx context.Context, channelID domain.ChannelId, files []slackclient.UploadFile, comment string) ([]slackclient.UploadResult, error) {
	m.mu.Lock()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	m.batches = append(m.batches, names)
	m.mu.Unlock()

	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, channelID, files, comment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]slackclient.UploadResult, len(files))
	for i := range files {
		m.next++
		id := fmt.Sprintf("F%d", m.next)
		results[i] = slackclient.UploadResult{ExternalFileID: id, ExternalPrivateURL: "https://files.slack.com/files-pri/T1-" + id + "/" + files[i].Filename}
	}
	return results, nil
}

func (m *MockChannelClient) DeleteFile(ctx context.Context, fileID domain.FileId) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, fileID)
	m.mu.Unlock()
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, fileID)
	}
	return nil
}

func (m *MockChannelClient) FetchFile(ctx context.Context, url string, w io.Writer) error {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, url, w)
	}
	_, err := io.WriteString(w, "bytes of "+url)
	return err
}

func clientsFor(c ChannelClient) ClientFactory {
	return ClientFactoryFunc(func(ctx context.Context, userID domain.UserId) (ChannelClient, error) {
		return c, nil
	})
}
