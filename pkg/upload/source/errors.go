package source

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"syscall"
)

// IsTransient classifies a fetch error for the retry policy. Timeouts,
// connection resets, HTTP 5xx and FTP 4xx temporary failures are transient;
// auth failures, missing resources and cancellations are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyComplete) || errors.Is(err, ErrResumeUnsupported) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}

	var ftpErr *textproto.Error
	if errors.As(err, &ftpErr) {
		return ftpErr.Code >= 400 && ftpErr.Code < 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
