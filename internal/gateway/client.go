// Package gateway is the typed client of the remote reservation backend.
// It covers the read path (ticket types, screenings, seat maps), the seat
// hold contract and the reservation commit. Every failure is mapped onto the
// apperr taxonomy so callers never look at status codes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
)

// DefaultTimeout bounds a single backend call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL    string        // backend root, e.g. https://reservations.internal/api
	Token      string        // optional service bearer token
	Timeout    time.Duration // per request timeout
	HTTPClient *http.Client  // optional; Timeout then only bounds coalesced reads
}

// Client talks JSON over HTTP to the reservation backend. It is safe for
// concurrent use; identical concurrent reads are coalesced.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
	reads   singleflight.Group
}

// New constructs a Client from opts.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: timeout,
		http:    hc,
	}
}

type patronKey struct{}

// WithPatron attaches the acting patron's id to ctx. The id is forwarded
// to the backend on every request made with that context.
func WithPatron(ctx context.Context, patronID string) context.Context {
	return context.WithValue(ctx, patronKey{}, patronID)
}

// PatronFrom returns the patron id stored by WithPatron.
func PatronFrom(ctx context.Context) string {
	v, _ := ctx.Value(patronKey{}).(string)
	return v
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Unavailable []string `json:"unavailable"`
}

type response struct {
	status int
	body   []byte
}

// do performs one request and returns the raw response. Transport failures
// are already mapped; HTTP error statuses are left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any, header http.Header) (response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return response{}, apperr.Wrap(apperr.ErrInvalidInput, op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return response{}, apperr.Wrap(apperr.ErrInvalidInput, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if p := PatronFrom(ctx); p != "" {
		req.Header.Set("X-Patron-Id", p)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, transportError(ctx, op, err)
	}
	return response{status: resp.StatusCode, body: raw}, nil
}

// read coalesces identical concurrent GETs. The shared request is detached
// from the first caller and bounded by the client timeout; every caller
// still gives up on its own context.
func (c *Client) read(ctx context.Context, op, path string, query url.Values) (response, error) {
	key := path + "?" + query.Encode() + "#" + PatronFrom(ctx)
	ch := c.reads.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.do(shared, op, http.MethodGet, path, query, nil, nil)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return response{}, res.Err
		}
		return res.Val.(response), nil
	case <-ctx.Done():
		return response{}, transportError(ctx, op, ctx.Err())
	}
}

func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.ErrTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apperr.Wrap(apperr.ErrTimeout, op, err)
	}
	return apperr.Wrap(apperr.ErrNetwork, op, err)
}

// statusError maps a non-2xx response. conflict is the kind used for 409.
func statusError(op string, r response, conflict error) error {
	var eb errorBody
	_ = json.Unmarshal(r.body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	switch {
	case r.status == http.StatusNotFound:
		return apperr.New(apperr.ErrNotFound, op, msg)
	case r.status == http.StatusConflict && conflict != nil:
		return apperr.Seats(conflict, op, eb.Unavailable)
	case r.status == http.StatusGone:
		return apperr.New(apperr.ErrHoldExpiredServerSide, op, msg)
	case r.status == http.StatusRequestTimeout || r.status == http.StatusGatewayTimeout:
		return apperr.New(apperr.ErrTimeout, op, msg)
	case r.status == http.StatusTooManyRequests || r.status >= 500:
		return apperr.New(apperr.ErrNetwork, op, fmt.Sprintf("backend answered %d %s", r.status, msg))
	default:
		return apperr.New(apperr.ErrInvalidInput, op, fmt.Sprintf("backend answered %d %s", r.status, msg))
	}
}

func decode(op string, r response, out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return apperr.Wrap(apperr.ErrNetwork, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func ok(status int) bool { return status >= 200 && status < 300 }
