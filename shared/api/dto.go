package api

import "github.com/picrelay/picrelay/shared/domain"

// MessageResponse is the generic {message} body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the generic {error} body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type ImageEntry struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	FileID string `json:"fileID"`
}

// ImagePage is one page of delivered files. NextPage is null on the last page.
type ImagePage struct {
	ImageUrls []ImageEntry `json:"imageUrls"`
	NextPage  *int         `json:"nextPage"`
}

type DownloadFile struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"required"`
}

type DownloadRequest struct {
	Files []DownloadFile `json:"files" validate:"required,min=1,dive"`
}

type DeleteFileEntry struct {
	ID         string             `json:"id" validate:"required"`
	DeleteFlag domain.DeleteScope `json:"deleteFlag" validate:"required"`
}

type DeleteRequest struct {
	Files []DeleteFileEntry `json:"files" validate:"required,min=1,dive"`
}

type ChannelsResponse struct {
	Channels []domain.Channel `json:"channels"`
}

// ProgressType is the SSE event type.
type ProgressType string

const (
	ProgressEvent ProgressType = "progress"
	CompleteEvent ProgressType = "complete"
)

type ProgressUpdate struct {
	Type     ProgressType `json:"type"`
	Progress float64      `json:"progress"`
}
