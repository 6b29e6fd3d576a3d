package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileData struct {
	name        string
	content     []byte
	contentType string
}

func createMultipartFiles(t *testing.T, files []fileData) []*multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(10<<20))
	return req.MultipartForm.File["files"]
}

var allowed = []string{"image/jpeg", "image/png", "image/gif"}

func TestValidateImages(t *testing.T) {
	t.Run("accepts images", func(t *testing.T) {
		files := createMultipartFiles(t, []fileData{
			{name: "IMG_1.JPG", content: []byte("fake jpeg"), contentType: "image/jpeg"},
			{name: "b.png", content: []byte("fake png"), contentType: "image/png"},
		})

		pending, err := ValidateImages(files, allowed, []string{"1700000000000"})

		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "IMG_1.JPG", pending[0].Filename)
		assert.Equal(t, "image/jpeg", pending[0].MimeType)
		require.NotNil(t, pending[0].LastModifiedDate)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), *pending[0].LastModifiedDate)
		assert.Nil(t, pending[1].LastModifiedDate)

		data, err := io.ReadAll(pending[1].Data)
		require.NoError(t, err)
		assert.Equal(t, "fake png", string(data))
	})

	t.Run("rejects non images", func(t *testing.T) {
		files := createMultipartFiles(t, []fileData{
			{name: "a.jpg", content: []byte("ok"), contentType: "image/jpeg"},
			{name: "doc.pdf", content: []byte("pdf"), contentType: "application/pdf"},
		})
		_, err := ValidateImages(files, allowed, nil)
		assert.ErrorIs(t, err, ErrInvalidMimeType)
	})

	t.Run("detects type from extension", func(t *testing.T) {
		files := createMultipartFiles(t, []fileData{
			{name: "photo.png", content: []byte("png"), contentType: "application/octet-stream"},
		})
		pending, err := ValidateImages(files, allowed, nil)
		require.NoError(t, err)
		assert.Equal(t, "image/png", pending[0].MimeType)
	})

	t.Run("ignores garbage timestamps", func(t *testing.T) {
		files := createMultipartFiles(t, []fileData{{name: "a.gif", content: []byte("g"), contentType: "image/gif"}})
		pending, err := ValidateImages(files, allowed, []string{"yesterday"})
		require.NoError(t, err)
		assert.Nil(t, pending[0].LastModifiedDate)
	})

	t.Run("nil for empty list", func(t *testing.T) {
		pending, err := ValidateImages(nil, allowed, nil)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})
}
