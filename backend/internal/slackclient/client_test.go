package slackclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getConversations func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	getInfo          func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	join             func(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	getUploadURL     func(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error)
	complete         func(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error)
	fileInfo         func(ctx context.Context, fileID string) (*slack.File, error)
	deleteFile       func(ctx context.Context, fileID string) error
	getFile          func(ctx context.Context, url string, w io.Writer) error
}

func (f *fakeAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return f.getConversations(ctx, params)
}

func (f *fakeAPI) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	return f.getInfo(ctx, input)
}

func (f *fakeAPI) JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error) {
	return f.join(ctx, channelID)
}

func (f *fakeAPI) GetUploadURLExternalContext(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error) {
	return f.getUploadURL(ctx, params)
}

func (f *fakeAPI) CompleteUploadExternalContext(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error) {
	return f.complete(ctx, params)
}

func (f *fakeAPI) GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error) {
	file, err := f.fileInfo(ctx, fileID)
	return file, nil, nil, err
}

func (f *fakeAPI) DeleteFileContext(ctx context.Context, fileID string) error {
	return f.deleteFile(ctx, fileID)
}

func (f *fakeAPI) GetFileContext(ctx context.Context, url string, w io.Writer) error {
	return f.getFile(ctx, url, w)
}

func channel(id, name string, member bool) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Name = name
	ch.IsMember = member
	return ch
}

func newTestClient(api API, opts ...Option) *Client {
	return New(api, 2, append([]Option{WithRetry(2, time.Millisecond)}, opts...)...)
}

func TestListChannels(t *testing.T) {
	t.Run("pages through channels and checks membership", func(t *testing.T) {
		var infoCalls atomic.Int32
		api := &fakeAPI{
			getConversations: func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
				assert.True(t, params.ExcludeArchived)
				if params.Cursor == "" {
					return []slack.Channel{channel("C1", "general", false), channel("C2", "random", false)}, "next", nil
				}
				return []slack.Channel{channel("C3", "photos", false)}, "", nil
			},
			getInfo: func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
				infoCalls.Add(1)
				ch := channel(input.ChannelID, "", input.ChannelID != "C2")
				return &ch, nil
			},
		}

		channels := newTestClient(api).ListChannels(context.Background())

		require.Len(t, channels, 3)
		assert.Equal(t, "C1", channels[0].ID)
		assert.Equal(t, "general", channels[0].Name)
		assert.True(t, channels[0].IsMember)
		assert.False(t, channels[1].IsMember)
		assert.True(t, channels[2].IsMember)
		assert.Equal(t, int32(3), infoCalls.Load())
	})

	t.Run("retries rate limited reads", func(t *testing.T) {
		var calls atomic.Int32
		api := &fakeAPI{
			getConversations: func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
				if calls.Add(1) == 1 {
					return nil, "", &slack.RateLimitedError{RetryAfter: time.Millisecond}
				}
				return []slack.Channel{channel("C1", "general", true)}, "", nil
			},
			getInfo: func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
				ch := channel(input.ChannelID, "", true)
				return &ch, nil
			},
		}

		channels := newTestClient(api).ListChannels(context.Background())
		assert.Len(t, channels, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("fails open", func(t *testing.T) {
		api := &fakeAPI{
			getConversations: func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
				return []slack.Channel{channel("C1", "general", true)}, "", nil
			},
			getInfo: func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
				return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
			},
		}

		channels := newTestClient(api).ListChannels(context.Background())
		assert.NotNil(t, channels)
		assert.Empty(t, channels)
	})

	t.Run("membership checks respect the worker limit", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		page := make([]slack.Channel, 10)
		for i := range page {
			page[i] = channel(fmt.Sprintf("C%d", i), "c", false)
		}
		api := &fakeAPI{
			getConversations: func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
				return page, "", nil
			},
			getInfo: func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				ch := channel(input.ChannelID, "", true)
				return &ch, nil
			},
		}

		channels := newTestClient(api).ListChannels(context.Background())
		assert.Len(t, channels, 10)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})
}

func TestJoinChannel(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		api := &fakeAPI{join: func(ctx context.Context, channelID string) (*slack.Channel, string, []string, error) {
			assert.Equal(t, "C1", channelID)
			return &slack.Channel{}, "", nil, nil
		}}
		assert.NoError(t, newTestClient(api).JoinChannel(context.Background(), "C1"))
	})

	t.Run("archived channel is a permanent external error", func(t *testing.T) {
		api := &fakeAPI{join: func(ctx context.Context, channelID string) (*slack.Channel, string, []string, error) {
			return nil, "", nil, slack.SlackErrorResponse{Err: "is_archived"}
		}}
		err := newTestClient(api).JoinChannel(context.Background(), "C1")

		var ext *internal_errors.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.False(t, ext.Retryable)
	})
}

// uploadFixture stages files on disk and fakes the external upload endpoints.
type uploadFixture struct {
	mu        sync.Mutex
	received  map[string]string
	completed []slack.CompleteUploadExternalParameters
	server    *httptest.Server
	api       *fakeAPI
	nextID    int
}

func newUploadFixture(t *testing.T) *uploadFixture {
	fx := &uploadFixture{received: make(map[string]string)}
	fx.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fx.mu.Lock()
		fx.received[strings.TrimPrefix(r.URL.Path, "/upload/")] = string(body)
		fx.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(fx.server.Close)

	fx.api = &fakeAPI{
		getUploadURL: func(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error) {
			fx.mu.Lock()
			fx.nextID++
			id := fmt.Sprintf("F%d", fx.nextID)
			fx.mu.Unlock()
			return &slack.GetUploadURLExternalResponse{UploadURL: fx.server.URL + "/upload/" + id, FileID: id}, nil
		},
		complete: func(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error) {
			fx.mu.Lock()
			fx.completed = append(fx.completed, params)
			fx.mu.Unlock()
			return &slack.CompleteUploadExternalResponse{Files: params.Files}, nil
		},
		fileInfo: func(ctx context.Context, fileID string) (*slack.File, error) {
			return &slack.File{ID: fileID, URLPrivate: "https://files.slack.com/files-pri/T1-" + fileID + "/img"}, nil
		},
	}
	return fx
}

func stage(t *testing.T, names ...string) []UploadFile {
	dir := t.TempDir()
	files := make([]UploadFile, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("bytes of "+n), 0644))
		files = append(files, UploadFile{Filename: n, LocalPath: p})
	}
	return files
}

func TestUploadBatch(t *testing.T) {
	t.Run("one message with results in input order", func(t *testing.T) {
		fx := newUploadFixture(t)
		client := newTestClient(fx.api)

		results, err := client.UploadBatch(context.Background(), "C1", stage(t, "a.jpg", "b.jpg"), "holiday")
		require.NoError(t, err)

		require.Len(t, results, 2)
		assert.Equal(t, "F1", results[0].ExternalFileID)
		assert.Contains(t, results[0].ExternalPrivateURL, "F1")
		assert.Equal(t, "F2", results[1].ExternalFileID)

		require.Len(t, fx.completed, 1)
		assert.Equal(t, "C1", fx.completed[0].Channel)
		assert.Equal(t, "holiday", fx.completed[0].InitialComment)
		assert.Equal(t, "a.jpg", fx.completed[0].Files[0].Title)
		assert.Equal(t, "bytes of a.jpg", fx.received["F1"])
		assert.Equal(t, "bytes of b.jpg", fx.received["F2"])
	})

	t.Run("reordered confirmation is rejected", func(t *testing.T) {
		fx := newUploadFixture(t)
		fx.api.complete = func(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error) {
			files := []slack.FileSummary{params.Files[1], params.Files[0]}
			return &slack.CompleteUploadExternalResponse{Files: files}, nil
		}

		_, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg", "b.jpg"), "")

		var ext *internal_errors.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.False(t, ext.Retryable)
	})

	t.Run("short confirmation is rejected", func(t *testing.T) {
		fx := newUploadFixture(t)
		fx.api.complete = func(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error) {
			return &slack.CompleteUploadExternalResponse{Files: params.Files[:1]}, nil
		}

		_, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg", "b.jpg"), "")
		assert.True(t, internal_errors.Is[*internal_errors.ExternalServiceError](err))
	})

	t.Run("rate limit is retryable and not retried", func(t *testing.T) {
		fx := newUploadFixture(t)
		var calls atomic.Int32
		fx.api.complete = func(ctx context.Context, params slack.CompleteUploadExternalParameters) (*slack.CompleteUploadExternalResponse, error) {
			calls.Add(1)
			return nil, &slack.RateLimitedError{RetryAfter: time.Second}
		}

		_, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg"), "")

		var ext *internal_errors.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.True(t, ext.Retryable)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("upload endpoint failure", func(t *testing.T) {
		fx := newUploadFixture(t)
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer failing.Close()
		fx.api.getUploadURL = func(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error) {
			return &slack.GetUploadURLExternalResponse{UploadURL: failing.URL, FileID: "F9"}, nil
		}

		_, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg"), "")

		var ext *internal_errors.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.True(t, ext.Retryable)
		assert.Empty(t, fx.completed)
	})

	t.Run("reports file size", func(t *testing.T) {
		fx := newUploadFixture(t)
		var size int
		inner := fx.api.getUploadURL
		fx.api.getUploadURL = func(ctx context.Context, params slack.GetUploadURLExternalParameters) (*slack.GetUploadURLExternalResponse, error) {
			size = params.FileSize
			return inner(ctx, params)
		}

		_, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg"), "")
		require.NoError(t, err)
		assert.Equal(t, len("bytes of a.jpg"), size)
	})

	t.Run("lookup failure after posting keeps the batch", func(t *testing.T) {
		fx := newUploadFixture(t)
		fx.api.fileInfo = func(ctx context.Context, fileID string) (*slack.File, error) {
			if fileID == "F2" {
				return nil, slack.SlackErrorResponse{Err: "invalid_auth"}
			}
			return &slack.File{ID: fileID, URLPrivate: "https://files.slack.com/files-pri/T1-" + fileID + "/img"}, nil
		}

		results, err := newTestClient(fx.api).UploadBatch(context.Background(), "C1", stage(t, "a.jpg", "b.jpg"), "")
		require.NoError(t, err)
		require.Len(t, fx.completed, 1)
		require.Len(t, results, 2)
		assert.Equal(t, "F1", results[0].ExternalFileID)
		assert.NotEmpty(t, results[0].ExternalPrivateURL)
		assert.Equal(t, "F2", results[1].ExternalFileID)
		assert.Empty(t, results[1].ExternalPrivateURL)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := newTestClient(&fakeAPI{}).UploadBatch(context.Background(), "C1", nil, "")
		assert.True(t, internal_errors.Is[*internal_errors.ValidationError](err))
	})
}

func TestDeleteFile(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"deleted", nil, false},
		{"already gone", slack.SlackErrorResponse{Err: "file_not_found"}, false},
		{"already deleted", slack.SlackErrorResponse{Err: "file_deleted"}, false},
		{"forbidden", slack.SlackErrorResponse{Err: "cant_delete_file"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{deleteFile: func(ctx context.Context, fileID string) error { return tc.err }}
			err := newTestClient(api).DeleteFile(context.Background(), "F1")
			if tc.wantErr {
				assert.True(t, internal_errors.Is[*internal_errors.ExternalServiceError](err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchFile(t *testing.T) {
	api := &fakeAPI{getFile: func(ctx context.Context, url string, w io.Writer) error {
		if strings.HasSuffix(url, "missing") {
			return slack.StatusCodeError{Code: http.StatusNotFound, Status: "404 Not Found"}
		}
		_, err := io.WriteString(w, "image")
		return err
	}}
	client := newTestClient(api)

	var sb strings.Builder
	require.NoError(t, client.FetchFile(context.Background(), "https://files.slack.com/ok", &sb))
	assert.Equal(t, "image", sb.String())

	err := client.FetchFile(context.Background(), "https://files.slack.com/missing", io.Discard)
	var ext *internal_errors.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.False(t, ext.Retryable)
}

func TestRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &slack.RateLimitedError{}, true},
		{"server error", slack.StatusCodeError{Code: 503}, true},
		{"not found", slack.StatusCodeError{Code: 404}, false},
		{"api ratelimited", slack.SlackErrorResponse{Err: "ratelimited"}, true},
		{"api invalid auth", slack.SlackErrorResponse{Err: "invalid_auth"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("x"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryable(tc.err))
		})
	}
}
