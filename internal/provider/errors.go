package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"governance_council/internal/domain"
)

const maxHTTPErrorBodyReadSize = 64 * 1024

type apiHTTPError struct {
	provider   domain.Provider
	statusCode int
	body       string
}

func (e apiHTTPError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%s api status=%d", e.provider, e.statusCode)
	}
	return fmt.Sprintf("%s api status=%d body=%s", e.provider, e.statusCode, e.body)
}

// errNoAdapter is returned for an agent whose provider has nothing registered.
var errNoAdapter = errors.New("no adapter configured for provider")

func isRetryableAPIError(err error) bool {
	if status, ok := statusCode(err); ok {
		return status == http.StatusTooManyRequests ||
			status == http.StatusRequestTimeout ||
			status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// classify maps an adapter error onto the persisted error kind.
func classify(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.ErrorKindNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.ErrorKindTimeout
	case errors.Is(err, domain.ErrUnparseableVote):
		return domain.ErrorKindParse
	case errors.Is(err, errNoAdapter):
		return domain.ErrorKindProviderRejected
	}
	if status, ok := statusCode(err); ok {
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			return domain.ErrorKindProviderRejected
		}
		return domain.ErrorKindTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorKindTimeout
	}
	return domain.ErrorKindTransport
}

func statusCode(err error) (int, bool) {
	var httpErr apiHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode, true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) && gErr.Code > 0 {
		return gErr.Code, true
	}
	return 0, false
}
