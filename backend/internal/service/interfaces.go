package service

import (
	"context"
	"io"

	"github.com/picrelay/picrelay/backend/internal/slackclient"
	"github.com/picrelay/picrelay/shared/domain"
)

// ChannelClient is the chat service as seen with one user's credential.
type ChannelClient interface {
	ListChannels(ctx context.Context) []domain.Channel
	JoinChannel(ctx context.Context, channelID domain.ChannelId) error
	UploadBatch(ctx context.Context, channelID domain.ChannelId, files []slackclient.UploadFile, comment string) ([]slackclient.UploadResult, error)
	DeleteFile(ctx context.Context, fileID domain.FileId) error
	FetchFile(ctx context.Context, url string, w io.Writer) error
}

var _ ChannelClient = (*slackclient.Client)(nil)

type ClientFactory interface {
	ForUser(ctx context.Context, userID domain.UserId) (ChannelClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, userID domain.UserId) (ChannelClient, error)

func (f ClientFactoryFunc) ForUser(ctx context.Context, userID domain.UserId) (ChannelClient, error) {
	return f(ctx, userID)
}

// SlackClients builds ChannelClients from a slackclient.Factory.
func SlackClients(f *slackclient.Factory) ClientFactory {
	return ClientFactoryFunc(func(ctx context.Context, userID domain.UserId) (ChannelClient, error) {
		return f.ForUser(ctx, userID)
	})
}
