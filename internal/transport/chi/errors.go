package chi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/kailas-cloud/oppfinder/internal/domain"
)

// errorHandler maps one class of error to a status and a client-safe message.
// It may set response headers; the body is written by the caller.
type errorHandler func(w http.ResponseWriter, err error) (status int, msg string, ok bool)

func rateLimitHandler(w http.ResponseWriter, err error) (int, string, bool) {
	if !errors.Is(err, domain.ErrRateLimited) {
		return 0, "", false
	}
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rle)))
	}
	return http.StatusTooManyRequests, "rate limit exceeded, try again later", true
}

func validationHandler(_ http.ResponseWriter, err error) (int, string, bool) {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return 0, "", false
	}
	return http.StatusBadRequest, ve.Reason, true
}

// upstreamHandler surfaces the registry's own message.
func upstreamHandler(_ http.ResponseWriter, err error) (int, string, bool) {
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		return 0, "", false
	}
	msg := ue.Message
	if msg == "" {
		msg = domain.ErrUpstream.Error()
	}
	return http.StatusInternalServerError, msg, true
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int) errorHandler {
	return func(_ http.ResponseWriter, err error) (int, string, bool) {
		if !errors.Is(err, sentinel) {
			return 0, "", false
		}
		return status, sentinel.Error(), true
	}
}

func retryAfterSeconds(e *domain.RateLimitError) int {
	return max(1, int(math.Ceil(e.RetryAfter.Seconds())))
}
