package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"songmill/storage"
)

// CoverUploader pushes a cover image to the content host and returns a
// durable public URL. Retry-safe: it never deletes the local source, so
// a failed attempt can be retried from the same file.
type CoverUploader interface {
	UploadCover(ctx context.Context, asset *CoverAsset) (string, error)
	RemoveCover(ctx context.Context, coverURL string) error
}

// MinioCoverUploader hosts covers in the object store under covers/.
type MinioCoverUploader struct {
	store      *storage.ObjectStore
	httpClient *http.Client
}

// NewMinioCoverUploader creates a cover uploader over the object store.
func NewMinioCoverUploader(store *storage.ObjectStore) *MinioCoverUploader {
	return &MinioCoverUploader{
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func coverExtension(mimeType string) string {
	if mimeType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

// UploadCover hosts a local file or fetches a remote thumbnail and streams
// it through to the store.
func (u *MinioCoverUploader) UploadCover(ctx context.Context, asset *CoverAsset) (string, error) {
	if asset.RemoteURL != "" {
		return u.uploadRemote(ctx, asset.RemoteURL)
	}

	objectName := "covers/" + uuid.NewString() + coverExtension(asset.MimeType)
	if err := u.store.UploadFile(ctx, objectName, asset.LocalPath, asset.MimeType); err != nil {
		return "", errUploadFailed("cover", err)
	}
	return u.store.PublicURL(objectName), nil
}

func (u *MinioCoverUploader) uploadRemote(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", errUploadFailed("cover", err)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", errUploadFailed("cover", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errUploadFailed("cover", fmt.Errorf("thumbnail fetch returned status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		contentType = "image/jpeg"
	}

	objectName := "covers/" + uuid.NewString() + coverExtension(contentType)
	if err := u.store.UploadReader(ctx, objectName, resp.Body, resp.ContentLength, contentType); err != nil {
		return "", errUploadFailed("cover", err)
	}
	return u.store.PublicURL(objectName), nil
}

// RemoveCover deletes a previously hosted cover. Used by compensation
// when the catalog commit fails after the cover was already hosted.
func (u *MinioCoverUploader) RemoveCover(ctx context.Context, coverURL string) error {
	objectName, ok := u.store.ObjectNameForURL(coverURL)
	if !ok {
		return fmt.Errorf("cover URL %q is not hosted by this store", coverURL)
	}
	return u.store.RemoveObject(ctx, objectName)
}
