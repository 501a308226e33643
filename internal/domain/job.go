package domain

import (
	"errors"
	"time"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindPhotoEffect JobKind = "photo_effect"
	JobKindVideoEffect JobKind = "video_effect"
)

// IsVideo reports whether the kind produces a video asset.
func (k JobKind) IsVideo() bool {
	return k == JobKindVideoEffect
}

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k == JobKindPhotoEffect || k == JobKindVideoEffect
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition happens without an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// JobRecord tracks one generation job end-to-end. ID is generated client-side at submission;
// RemoteJobID is the backend's id and stays nil until submission succeeds. All paths are
// relative to the client's private data directory.
type JobRecord struct {
	ID              string
	RemoteJobID     *string
	Kind            JobKind
	TemplateID      int
	Status          JobStatus
	ResultImagePath *string
	ResultVideoPath *string
	InputSourcePath *string
	ErrorMessage    *string
	CreatedAt       time.Time
}

// Clone returns a deep copy so snapshots handed to observers never alias registry state.
func (r JobRecord) Clone() JobRecord {
	out := r
	out.RemoteJobID = cloneString(r.RemoteJobID)
	out.ResultImagePath = cloneString(r.ResultImagePath)
	out.ResultVideoPath = cloneString(r.ResultVideoPath)
	out.InputSourcePath = cloneString(r.InputSourcePath)
	out.ErrorMessage = cloneString(r.ErrorMessage)
	return out
}

// CanRetry reports whether a retry is still possible for the record.
func (r JobRecord) CanRetry() bool {
	return r.Status == JobStatusError && r.InputSourcePath != nil
}

var (
	errRecordID          = errors.New("record: id is required")
	errRecordKind        = errors.New("record: unknown kind")
	errSuccessResult     = errors.New("record: success requires exactly the result path matching its kind")
	errSuccessInput      = errors.New("record: success must not retain the input snapshot")
	errMissingInput      = errors.New("record: processing and error records must retain the input snapshot")
	errUnexpectedResult  = errors.New("record: only success records carry result paths")
	errMissingErrMessage = errors.New("record: error records carry a message")
	errUnexpectedMessage = errors.New("record: only error records carry a message")
	errRecordStatus      = errors.New("record: unknown status")
)

// Validate checks the record invariants.
func (r JobRecord) Validate() error {
	if r.ID == "" {
		return errRecordID
	}
	if !r.Kind.Valid() {
		return errRecordKind
	}
	switch r.Status {
	case JobStatusSuccess:
		hasImage, hasVideo := r.ResultImagePath != nil, r.ResultVideoPath != nil
		if hasImage == hasVideo || hasVideo != r.Kind.IsVideo() {
			return errSuccessResult
		}
		if r.InputSourcePath != nil {
			return errSuccessInput
		}
	case JobStatusProcessing, JobStatusError:
		if r.ResultImagePath != nil || r.ResultVideoPath != nil {
			return errUnexpectedResult
		}
		if r.InputSourcePath == nil {
			return errMissingInput
		}
	default:
		return errRecordStatus
	}
	if r.Status == JobStatusError && r.ErrorMessage == nil {
		return errMissingErrMessage
	}
	if r.Status != JobStatusError && r.ErrorMessage != nil {
		return errUnexpectedMessage
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
