package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrDuplicateSite is returned when two site specs share a name.
var ErrDuplicateSite = errors.New("duplicate site name")

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchErrorNetwork    FetchErrorKind = "network"
	FetchErrorTimeout    FetchErrorKind = "timeout"
	FetchErrorHTTPStatus FetchErrorKind = "http_status"
	FetchErrorInvalidURL FetchErrorKind = "invalid_url"
	FetchErrorCanceled   FetchErrorKind = "canceled"
)

// FetchError describes a failed request.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorHTTPStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError converts err into a *FetchError for rawURL.
func ClassifyFetchError(rawURL string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := FetchErrorNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = FetchErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = FetchErrorTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchErrorTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Err: err}
}

// ExtractionFieldError reports a field that could not be evaluated. It is always
// recovered by recording the field as absent.
type ExtractionFieldError struct {
	Field    string
	Selector string
	Err      error
}

func (e *ExtractionFieldError) Error() string {
	return fmt.Sprintf("extract field %q (%s): %v", e.Field, e.Selector, e.Err)
}

func (e *ExtractionFieldError) Unwrap() error {
	return e.Err
}

// SiteTaskError is a fault that ended a site's crawl early.
type SiteTaskError struct {
	Site string
	Err  error
}

func (e *SiteTaskError) Error() string {
	return fmt.Sprintf("site %s: %v", e.Site, e.Err)
}

func (e *SiteTaskError) Unwrap() error {
	return e.Err
}

// SchedulerDispatchError is a fault raised while invoking a site task.
type SchedulerDispatchError struct {
	Site string
	Err  error
}

func (e *SchedulerDispatchError) Error() string {
	return fmt.Sprintf("dispatch site %s: %v", e.Site, e.Err)
}

func (e *SchedulerDispatchError) Unwrap() error {
	return e.Err
}
