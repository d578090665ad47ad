package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Failure converts a backend error into a typed failure outcome. Timeouts,
// transport errors, throttling and server errors are retryable;
// authentication and malformed requests are fatal. Unrecognized errors are
// treated as transient.
func Failure(err error) model.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.RetryableFailure{Reason: "timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return model.RetryableFailure{Reason: "cancelled", Err: err}
	}

	if code, ok := httpStatus(err); ok {
		return fromHTTPStatus(code, err)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return fromGRPCCode(st.Code(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return model.RetryableFailure{Reason: "network timeout", Err: err}
		}
		return model.RetryableFailure{Reason: "network error", Err: err}
	}

	return model.RetryableFailure{Reason: "transient error", Err: err}
}

func httpStatus(err error) (int, bool) {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) && oaiAPI.HTTPStatusCode != 0 {
		return oaiAPI.HTTPStatusCode, true
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) && oaiReq.HTTPStatusCode != 0 {
		return oaiReq.HTTPStatusCode, true
	}
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr.StatusCode != 0 {
		return claudeErr.StatusCode, true
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) && genaiErr.Code != 0 {
		return genaiErr.Code, true
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) && genaiPtr.Code != 0 {
		return genaiPtr.Code, true
	}
	return 0, false
}

func fromHTTPStatus(code int, err error) model.Outcome {
	reason := fmt.Sprintf("http %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusTooManyRequests:
		return model.RetryableFailure{Reason: "rate limited by provider", Err: err}
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooEarly:
		return model.RetryableFailure{Reason: reason, Err: err}
	case code >= 500:
		return model.RetryableFailure{Reason: reason, Err: err}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return model.FatalFailure{Reason: "authentication failed: " + reason, Err: err}
	default:
		return model.FatalFailure{Reason: "malformed request: " + reason, Err: err}
	}
}

func fromGRPCCode(code codes.Code, err error) model.Outcome {
	reason := "grpc " + code.String()
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return model.RetryableFailure{Reason: reason, Err: err}
	case codes.ResourceExhausted:
		return model.RetryableFailure{Reason: "rate limited by provider", Err: err}
	case codes.Unauthenticated, codes.PermissionDenied:
		return model.FatalFailure{Reason: "authentication failed: " + reason, Err: err}
	default:
		return model.FatalFailure{Reason: "malformed request: " + reason, Err: err}
	}
}
