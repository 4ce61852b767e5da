// Package ingest holds the error kinds a channel run can fail with. Each
// wraps its cause, usually a *flaw.Flaw, and is matched with errors.As.
package ingest

import (
	"errors"
	"fmt"
)

type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type TagError struct {
	Path string
	Err  error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tag %s: %v", e.Path, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// AuthError means the catalog API rejected the current credentials.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Kind names the error kind of err for reports.
func Kind(err error) string {
	var (
		fetchErr  *FetchError
		tagErr    *TagError
		uploadErr *UploadError
		storeErr  *StoreError
		authErr   *AuthError
	)
	switch {
	case nil == err:
		return ""
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &tagErr):
		return "tag"
	case errors.As(err, &uploadErr):
		return "upload"
	case errors.As(err, &storeErr):
		return "store"
	default:
		return "internal"
	}
}
