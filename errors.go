package acidstore

import "github.com/lostatc/acid-store/pkg/apierr"

// Code and RepoError are re-exported from pkg/apierr so callers of
// the root package never need to import the leaf package directly.
type (
	Code      = apierr.Code
	RepoError = apierr.RepoError
)

const (
	CodeNotFound           = apierr.CodeNotFound
	CodeAlreadyExists      = apierr.CodeAlreadyExists
	CodeWrongPassword      = apierr.CodeWrongPassword
	CodeCorrupt            = apierr.CodeCorrupt
	CodeUnsupportedFeature = apierr.CodeUnsupportedFeature
	CodeLocked             = apierr.CodeLocked
	CodeStaleLock          = apierr.CodeStaleLock
	CodeBackendUnavailable = apierr.CodeBackendUnavailable
	CodeIO                 = apierr.CodeIO
	CodeInvalidArgument    = apierr.CodeInvalidArgument
)

var (
	ErrNotFound           = apierr.ErrNotFound
	ErrAlreadyExists      = apierr.ErrAlreadyExists
	ErrWrongPassword      = apierr.ErrWrongPassword
	ErrCorrupt            = apierr.ErrCorrupt
	ErrUnsupportedFeature = apierr.ErrUnsupportedFeature
	ErrLocked             = apierr.ErrLocked
	ErrStaleLock          = apierr.ErrStaleLock
	ErrBackendUnavailable = apierr.ErrBackendUnavailable
	ErrIO                 = apierr.ErrIO
	ErrInvalidArgument    = apierr.ErrInvalidArgument
)

// New builds a RepoError of the given code, wrapping cause.
func New(code Code, detail string, cause error) *RepoError {
	return apierr.New(code, detail, cause)
}

// AsRepoError extracts a *RepoError from an error chain, if present.
func AsRepoError(err error) (*RepoError, bool) {
	return apierr.AsRepoError(err)
}
