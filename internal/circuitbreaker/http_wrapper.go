package circuitbreaker

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. Transport errors
// and 5xx responses count as breaker failures; 4xx responses do not trip the
// breaker because they indicate a caller problem, not a dependency outage.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
	logger *zap.Logger
}

// NewHTTPWrapper creates an HTTP wrapper guarded by a breaker with the given
// profile. The default client timeout is sized for slow model inference.
func NewHTTPWrapper(client *http.Client, name, service string, config Config, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, service, config, logger),
		logger: logger,
	}
}

// Do executes an HTTP request through the circuit breaker. A 5xx response is
// accounted as a breaker failure but still returned to the caller, who owns
// status handling and retries.
func (w *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = w.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// IsOpen reports whether the breaker currently rejects requests.
func (w *HTTPWrapper) IsOpen() bool {
	return w.cb.State() == StateOpen
}

// httpStatusError marks 5xx responses for breaker accounting.
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
