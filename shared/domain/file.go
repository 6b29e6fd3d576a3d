package domain

import (
	"io"
	"time"
)

type (
	UserId    = string
	SessionId = string
	ChannelId = string
	FileId    = string
)

// FileReference is the durable record of one submitted file.
// ExternalPrivateURL is only set together with ExternalFileID. An id without
// a URL marks a file the chat service accepted but never described.
type FileReference struct {
	Id                 int64
	Name               string
	LocalPath          string
	Size               int64
	SessionID          SessionId
	UserID             UserId
	MimeType           string
	LastModifiedDate   *time.Time
	IsUploaded         bool
	ExternalFileID     *FileId
	ExternalPrivateURL *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Delivered reports whether the chat service has confirmed the file.
func (f *FileReference) Delivered() bool {
	return f.ExternalFileID != nil && f.ExternalPrivateURL != nil &&
		*f.ExternalFileID != "" && *f.ExternalPrivateURL != ""
}

// Posted reports whether the chat service holds the file, confirmed or not.
func (f *FileReference) Posted() bool {
	return f.ExternalFileID != nil && *f.ExternalFileID != ""
}

// Pending reports whether the file is staged on this server and still owed to the chat service.
func (f *FileReference) Pending() bool {
	return f.IsUploaded && !f.Posted()
}

// FileDetails is what the intake knows about a file when it is first written.
type FileDetails struct {
	Name             string
	LocalPath        string
	Size             int64
	SessionID        SessionId
	UserID           UserId
	MimeType         string
	LastModifiedDate *time.Time
}

// ExternalInfo is what the chat service assigns to a delivered file.
type ExternalInfo struct {
	ExternalFileID     FileId
	ExternalPrivateURL string
}

// PendingFile is a validated multipart part waiting to be staged.
type PendingFile struct {
	Filename         string
	SizeBytes        int64
	MimeType         string
	LastModifiedDate *time.Time
	Data             io.Reader
}

// Channel is a chat destination visible to a credential.
type Channel struct {
	ID       ChannelId `json:"id"`
	Name     string    `json:"name"`
	IsMember bool      `json:"isMember"`
}

// DeleteScope says how far a deletion reaches.
type DeleteScope string

const (
	// ScopeLocal clears the external fields of local records only.
	ScopeLocal DeleteScope = "a"
	// ScopeRemoteAndLocal deletes the external files, then clears the local records.
	ScopeRemoteAndLocal DeleteScope = "b"
)

func (s DeleteScope) Valid() bool {
	return s == ScopeLocal || s == ScopeRemoteAndLocal
}

type User struct {
	Id UserId
}
