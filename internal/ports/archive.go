package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// HTTPArchiveReader reads vote threads from a Pony Mail style archive API.
// Transient failures are retried with exponential backoff; a persistently
// failing archive opens the circuit breaker so tabulation fails fast.
type HTTPArchiveReader struct {
	baseURL string
	client  *http.Client

	retrier retry.Retry[[]Message]
	breaker circuitbreaker.CircuitBreaker[[]Message]
}

// NewHTTPArchiveReader creates a reader against baseURL, e.g.
// "https://lists.apache.org".
func NewHTTPArchiveReader(baseURL string) *HTTPArchiveReader {
	return &HTTPArchiveReader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		retrier: retry.New[[]Message](retry.Config{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			Jitter:        true,
			IsRetryable:   isRetryableArchiveError,
		}),
		breaker: circuitbreaker.New[[]Message](circuitbreaker.Config{
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type archiveEmail struct {
	MessageID string `json:"mid"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type archiveThread struct {
	Emails []archiveEmail `json:"emails"`
}

// ThreadMessages implements MailArchiveReader.
func (r *HTTPArchiveReader) ThreadMessages(ctx context.Context, threadID string) ([]Message, error) {
	const op = "ports.ThreadMessages"

	return r.breaker.Execute(ctx, func(ctx context.Context) ([]Message, error) {
		return r.retrier.Do(ctx, func(ctx context.Context) ([]Message, error) {
			endpoint := fmt.Sprintf("%s/api/thread.lua?id=%s", r.baseURL, url.QueryEscape(threadID))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, atrerrors.ExternalWrap(err, op, "failed to build archive request")
			}
			resp, err := r.client.Do(req)
			if err != nil {
				return nil, atrerrors.ExternalWrap(err, op, "archive request failed")
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return nil, atrerrors.Newf(atrerrors.KindExternal, "archive returned status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
			if err != nil {
				return nil, atrerrors.ExternalWrap(err, op, "failed to read archive response")
			}
			var thread archiveThread
			if err := json.Unmarshal(body, &thread); err != nil {
				return nil, atrerrors.ExternalWrap(err, op, "failed to decode archive thread")
			}
			out := make([]Message, 0, len(thread.Emails))
			for _, e := range thread.Emails {
				out = append(out, Message{
					MessageID: e.MessageID,
					From:      e.From,
					Subject:   e.Subject,
					Body:      e.Body,
				})
			}
			return out, nil
		})
	})
}

// ArchiveURL implements MailArchiveReader. A HEAD probe confirms the archive
// has indexed the message before the permalink is handed out.
func (r *HTTPArchiveReader) ArchiveURL(ctx context.Context, messageID, recipient string) (string, error) {
	const op = "ports.ArchiveURL"

	permalink := fmt.Sprintf("%s/thread.html/%s", r.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, permalink, nil)
	if err != nil {
		return "", atrerrors.ExternalWrap(err, op, "failed to build archive request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", atrerrors.ExternalWrap(err, op, "archive request failed")
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	return permalink, nil
}

func isRetryableArchiveError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Non-2xx responses carry KindExternal; client bugs do not.
	return atrerrors.IsKind(err, atrerrors.KindExternal)
}
