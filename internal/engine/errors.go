package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brandon/mailsync/internal/imapx"
)

// ThrottledError marks upstream rate limiting. Recoverable: back off and
// retry, or skip the rest of the pass and let the next cycle resume.
type ThrottledError struct {
	Err error
}

func (e *ThrottledError) Error() string { return fmt.Sprintf("throttled by upstream: %v", e.Err) }
func (e *ThrottledError) Unwrap() error { return e.Err }

// AuthError marks a dropped or rejected authentication. The account needs
// reconnection before further folders are attempted.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError marks a folder that does not exist on the server. Treated
// as an empty success, never propagated past the folder sync.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %v", e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// NormalizationError marks a single message that could not be converted
// into a canonical record. Counted and skipped, never retried.
type NormalizationError struct {
	Err error
}

func (e *NormalizationError) Error() string { return fmt.Sprintf("normalization failed: %v", e.Err) }
func (e *NormalizationError) Unwrap() error { return e.Err }

// ErrorKind is the closed set of classifications for opaque transport
// errors.
type ErrorKind int

const (
	// KindUnknown is anything the signature lists do not match.
	KindUnknown ErrorKind = iota
	// KindThrottled is upstream rate limiting.
	KindThrottled
	// KindAuth is an authentication-shaped failure.
	KindAuth
	// KindNotFound is a missing folder.
	KindNotFound
	// KindTransient is a dropped connection without an authentication
	// signature; likely rate limiting in disguise.
	KindTransient
)

// Classifier maps opaque transport errors onto the error taxonomy by
// matching provider-specific signatures. The pattern lists are injected
// from configuration because upstream error text varies by provider.
type Classifier struct {
	authPatterns      []string
	throttlePatterns  []string
	notFoundPatterns  []string
	transientPatterns []string
}

// NewClassifier builds a classifier from signature lists.
func NewClassifier(auth, throttle, notFound, transient []string) *Classifier {
	return &Classifier{
		authPatterns:      auth,
		throttlePatterns:  throttle,
		notFoundPatterns:  notFound,
		transientPatterns: transient,
	}
}

// Kind classifies an error. Typed errors from this package and the
// transport take precedence over signature matching.
func (c *Classifier) Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return KindThrottled
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return KindAuth
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return KindNotFound
	}
	var connErr *imapx.ConnectionError
	if errors.As(err, &connErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())

	// Auth first: a throttle pattern inside an auth failure message must
	// not mask the credential problem.
	if matchesAny(msg, c.authPatterns) {
		return KindAuth
	}
	if matchesAny(msg, c.throttlePatterns) {
		return KindThrottled
	}
	if matchesAny(msg, c.notFoundPatterns) {
		return KindNotFound
	}
	if matchesAny(msg, c.transientPatterns) {
		return KindTransient
	}

	return KindUnknown
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
