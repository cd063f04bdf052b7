package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dispatcher invokes one external build-and-publish operation for a ref.
// The build itself (image construction, registry pushes, tag aliases) is an
// opaque collaborator; this side only hands over the ref identifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref string) error
}

// Failure records one failed dispatch of a fan-out.
type Failure struct {
	Ref string
	Err error
}

// FanOut dispatches one build per updated ref, in parallel. Builds are
// fail-isolated: a failing dispatch never cancels or blocks its siblings.
// limit caps the number of concurrent dispatches; zero means unlimited.
// An empty ref list dispatches nothing.
func FanOut(ctx context.Context, d Dispatcher, updated []string, limit int, logger *slog.Logger) []Failure {
	if len(updated) == 0 {
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	// Goroutines report into their own slot and always return nil, so one
	// failure cannot tear down the group.
	errs := make([]error, len(updated))
	for i, ref := range updated {
		i, ref := i, ref
		g.Go(func() error {
			logger.Info("triggering downstream build", "ref", ref)
			if err := d.Dispatch(ctx, ref); err != nil {
				logger.Error("downstream build trigger failed", "ref", ref, "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, Failure{Ref: updated[i], Err: err})
		}
	}
	return failures
}

// HTTPDispatcher triggers builds by POSTing a dispatch event to a CI
// endpoint. The payload carries the ref; the endpoint derives the image
// tags from it (the ref itself, plus "latest" for the default branch).
type HTTPDispatcher struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the given endpoint. The bearer
// token is read from tokenFile; an empty tokenFile sends unauthenticated
// requests.
func NewHTTPDispatcher(dispatchURL, tokenFile string) (*HTTPDispatcher, error) {
	var token string
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read trigger token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}

	return &HTTPDispatcher{
		url:    dispatchURL,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// dispatchPayload is the JSON body of a dispatch request.
type dispatchPayload struct {
	Ref string `json:"ref"`
}

// Dispatch POSTs the build request for one ref.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, ref string) error {
	body, err := json.Marshal(dispatchPayload{Ref: ref})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dispatch rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
