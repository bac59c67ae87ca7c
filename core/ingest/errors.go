package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The coordinator maps kinds to
// compensation actions; the HTTP layer maps them to status codes. Raw
// external-process output never travels inside the message, only kind
// and a sanitized reason reach the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindDuplicate
	KindAlreadyInProgress
	KindBackpressure
	KindRemoteFetch
	KindTranscode
	KindUpload
	KindPersistence
	KindCanceled
)

// Reason codes carried by Error for programmatic handling.
const (
	ReasonMissingFile          = "missing_file"
	ReasonUnsupportedMediaType = "unsupported_media_type"
	ReasonPayloadTooLarge      = "payload_too_large"
	ReasonInvalidTitle         = "invalid_title"
	ReasonDuplicateTitle       = "duplicate_title"
	ReasonNotFound             = "not_found"
	ReasonInvalidURL           = "invalid_url"
	ReasonIncompleteMetadata   = "incomplete_metadata"
	ReasonDownloadFailed       = "download_failed"
	ReasonTranscodeFailed      = "transcode_failed"
	ReasonUploadFailed         = "upload_failed"
	ReasonPersistenceFailed    = "persistence_failed"
	ReasonAlreadyInProgress    = "already_in_progress"
	ReasonBackpressure         = "backpressure"
	ReasonCanceled             = "canceled"
)

// Error is the typed failure value returned by every pipeline stage.
type Error struct {
	Kind    Kind
	Reason  string
	Message string // safe to show to the caller
	cause   error  // diagnostic detail, logs only
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, reason, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, cause: cause}
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the reason code from an error chain, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func errMissingFile(what string) *Error {
	return newError(KindValidation, ReasonMissingFile, fmt.Sprintf("missing %s file", what), nil)
}

func errUnsupportedMediaType(mimeType string) *Error {
	return newError(KindValidation, ReasonUnsupportedMediaType, fmt.Sprintf("unsupported media type %q", mimeType), nil)
}

func errPayloadTooLarge(what string, limit int64) *Error {
	return newError(KindValidation, ReasonPayloadTooLarge, fmt.Sprintf("%s exceeds the %d MiB limit", what, limit>>20), nil)
}

func errInvalidTitle(title string) *Error {
	return newError(KindValidation, ReasonInvalidTitle, fmt.Sprintf("title %q has no usable characters", title), nil)
}

func errDuplicateTitle(title string) *Error {
	return newError(KindDuplicate, ReasonDuplicateTitle, fmt.Sprintf("a song titled %q already exists", title), nil)
}

func errNotFound(what string, id int64) *Error {
	return newError(KindNotFound, ReasonNotFound, fmt.Sprintf("%s %d not found", what, id), nil)
}

func errInvalidURL(cause error) *Error {
	return newError(KindValidation, ReasonInvalidURL, "invalid media URL", cause)
}

func errIncompleteMetadata(cause error) *Error {
	return newError(KindRemoteFetch, ReasonIncompleteMetadata, "metadata lookup returned an incomplete answer", cause)
}

func errDownloadFailed(cause error) *Error {
	return newError(KindRemoteFetch, ReasonDownloadFailed, "failed to download remote audio", cause)
}

func errTranscodeFailed(cause error) *Error {
	return newError(KindTranscode, ReasonTranscodeFailed, "audio transcoding failed", cause)
}

func errUploadFailed(what string, cause error) *Error {
	return newError(KindUpload, ReasonUploadFailed, fmt.Sprintf("failed to host %s", what), cause)
}

func errPersistenceFailed(cause error) *Error {
	return newError(KindPersistence, ReasonPersistenceFailed, "failed to save the song", cause)
}

func errAlreadyInProgress(slug string) *Error {
	return newError(KindAlreadyInProgress, ReasonAlreadyInProgress, fmt.Sprintf("an ingestion for %q is already in progress", slug), nil)
}

func errBackpressure() *Error {
	return newError(KindBackpressure, ReasonBackpressure, "transcoding capacity exhausted, try again later", nil)
}

func errCanceled(cause error) *Error {
	return newError(KindCanceled, ReasonCanceled, "ingestion canceled", cause)
}
