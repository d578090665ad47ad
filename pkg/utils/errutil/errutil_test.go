package errutil_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
)

func TestHandleHTTPHidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	errutil.HandleHTTP(context.Background(), w, goerr.New("db password wrong"), http.StatusInternalServerError)

	gt.Value(t, w.Code).Equal(http.StatusInternalServerError)
	var body map[string]string
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body)).Required()
	gt.Value(t, body["error"]).Equal("Internal Server Error")
}

func TestHandleHTTPShowsClientErrors(t *testing.T) {
	w := httptest.NewRecorder()
	errutil.HandleHTTP(context.Background(), w, goerr.New("text is required"), http.StatusBadRequest)

	gt.Value(t, w.Code).Equal(http.StatusBadRequest)
	gt.String(t, w.Body.String()).Contains("text is required")
}

func TestHandleNil(t *testing.T) {
	errutil.Handle(context.Background(), nil, "noop")
}

func TestHandleReportsValuesToSentry(t *testing.T) {
	var captured *sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			captured = event
			return nil
		},
	})
	gt.NoError(t, err).Required()

	hub := sentry.NewHub(client, sentry.NewScope())
	ctx := sentry.SetHubOnContext(context.Background(), hub)
	errutil.Handle(ctx, goerr.New("storage unreachable", goerr.V("owner", "alice")), "request failed")

	gt.Value(t, captured).NotNil().Required()
	gt.Value(t, captured.Tags["message"]).Equal("request failed")
	gt.Value(t, captured.Contexts["goerr"]["owner"]).Equal(any("alice"))
}
