package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
)

const maxBodyBytes = 8 << 20

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// get performs a GET and reads a bounded body. Transport failures map to
// ErrSourceUnavailable; status handling is left to the caller.
func (o Options) get(ctx context.Context, url string, header http.Header) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("%w: build request: %v", internalerr.ErrInvalidConfig, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", o.UserAgent)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: %v", internalerr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("%w: read body: %v", internalerr.ErrSourceUnavailable, err)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

// statusError maps a non-2xx status to the failure taxonomy.
func statusError(url string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned HTTP %d", internalerr.ErrQuotaExceeded, url, status)
	default:
		return fmt.Errorf("%w: %s returned HTTP %d", internalerr.ErrSourceUnavailable, url, status)
	}
}
