package sdk

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// errorBody is the {"message": ...} body every meshauth service answers errors with.
type errorBody struct {
	Message string `json:"message"`
}

// newRestyClient builds the resty client shared by Client and ServiceClient.
// The caller's http.Client is copied, never mutated.
func newRestyClient(baseURL, name string, opts ClientOptions) *resty.Client {
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		*hc = *opts.HTTPClient
	}
	if hc.Timeout == 0 {
		hc.Timeout = defaultTimeout
	}

	log := opts.Logger.With().Str("client", name).Logger()
	client := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetError(&errorBody{}).
		SetLogger(restyLogger{log: log})

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		// Services always answer JSON; test doubles may not label it.
		r.ForceContentType("application/json")
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		log.Debug().
			Int("status", r.StatusCode()).
			Str("method", r.Request.Method).
			Str("path", r.Request.RawRequest.URL.Path).
			Dur("latency", r.Time()).
			Msg("HTTP client request")
		return nil
	})
	return client
}

// apiError converts an error response into *APIError.
func apiError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Message = body.Message
	}
	return apiErr
}

// restyLogger routes resty's own diagnostics into zerolog.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
