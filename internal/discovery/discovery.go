// ABOUTME: Endpoint discovery against the well-known hub service.
// ABOUTME: Parses the one-line response and retries parse failures in place.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the hub endpoint template; %d receives the account number.
const DefaultURL = "http://appmsg.gadu-gadu.pl/appsvc/appmsg_ver10.asp?fmnumber=%d&lastmsg=0&version=10.1.1.11119"

// notOperatingSentinel in the final token means the hub has no server for
// this account right now.
const notOperatingSentinel = "notoperating"

// maxRetryDelay caps the backoff between repeated parse-failure retries.
const maxRetryDelay = 5 * time.Second

// ParseError reports a malformed or refusing hub response. It is retryable:
// Resolve keeps polling the hub until it parses an address or the transport
// fails.
type ParseError struct {
	Response string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed discovery response %q: %s", e.Response, e.Reason)
}

// Resolver performs endpoint discovery over HTTP.
type Resolver struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a resolver for the given URL template. Pass DefaultURL for
// the production hub.
func New(url string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "discovery"),
	}
}

// Resolve looks up the server address for the given account. Parse failures
// are retried in place: the first retry is immediate, later ones back off
// exponentially up to maxRetryDelay. Transport failures are returned to the
// caller, which treats them as a network error for the session.
func (r *Resolver) Resolve(ctx context.Context, uin uint32) (string, error) {
	delay := time.Duration(0)
	for attempt := 1; ; attempt++ {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		addr, err := r.fetch(ctx, uin)
		if err == nil {
			r.logger.Info("server address resolved", "addr", addr, "attempt", attempt)
			return addr, nil
		}

		var perr *ParseError
		if !errors.As(err, &perr) {
			return "", err
		}

		r.logger.Debug("discovery response unusable, retrying", "attempt", attempt, "error", err)

		// First retry goes out immediately; after that, back off.
		switch {
		case attempt == 1:
			delay = 0
		case delay == 0:
			delay = 100 * time.Millisecond
		default:
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}
}

// fetch performs one hub request and parse.
func (r *Resolver) fetch(ctx context.Context, uin uint32) (string, error) {
	url := fmt.Sprintf(r.url, uin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching discovery endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading discovery response: %w", err)
	}

	return ParseResponse(string(body))
}

// ParseResponse extracts the server address from a hub response line. The
// response is space-separated; the first token must be "0" and the last
// token is the address unless it is the not-operating sentinel.
func ParseResponse(body string) (string, error) {
	line := strings.ReplaceAll(body, "\n", "")
	tokens := strings.Split(line, " ")

	if len(tokens) < 2 || tokens[0] != "0" {
		return "", &ParseError{Response: line, Reason: "leading token is not 0"}
	}

	addr := tokens[len(tokens)-1]
	if addr == notOperatingSentinel {
		return "", &ParseError{Response: line, Reason: "hub reports not operating"}
	}
	if addr == "" {
		return "", &ParseError{Response: line, Reason: "empty address token"}
	}

	return addr, nil
}
