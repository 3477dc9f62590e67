// Package fetch performs single metadata requests with a hard deadline and classifies
// every outcome into a closed status taxonomy. Retry decisions belong to the caller.
package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/ratelimit"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024 // 10MB
	defaultUserAgent    = "revealrank/1.0"
	defaultIPFSGateway  = "https://ipfs.io/ipfs/"
)

// ErrUnsupportedScheme is returned for URIs the client cannot resolve.
var ErrUnsupportedScheme = errors.New("fetch: unsupported uri scheme")

// Response is the result of one fetch.
type Response struct {
	Status  Status
	Payload any
	Header  http.Header

	// Err explains non-OK statuses, or a 2xx body that could not be decoded
	// (Status stays StatusOK and Payload is nil).
	Err error
}

// OK reports whether the response carries a decoded payload.
func (r Response) OK() bool {
	return r.Status == StatusOK && r.Err == nil
}

// Options configures a Client.
type Options struct {
	HTTPClient   *http.Client
	Limiter      *ratelimit.HostLimiter
	UserAgent    string
	IPFSGateway  string
	MaxBodyBytes int64
}

func (o *Options) defaults() {
	if o.HTTPClient == nil {
		// The per-request context carries the deadline.
		o.HTTPClient = &http.Client{}
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.IPFSGateway == "" {
		o.IPFSGateway = defaultIPFSGateway
	}
	if !strings.HasSuffix(o.IPFSGateway, "/") {
		o.IPFSGateway += "/"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
}

// Client fetches item metadata documents.
type Client struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Client.
func New(opts Options, logger *slog.Logger) *Client {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// Resolve turns a metadata URI into the URL actually requested.
func (c *Client) Resolve(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		rest = strings.TrimPrefix(rest, "ipfs/")
		return c.opts.IPFSGateway + rest
	}
	return uri
}

// Fetch performs one GET of uri bounded by timeout. It never returns an error;
// failures are reported through Response.Status and Response.Err.
func (c *Client) Fetch(ctx context.Context, uri string, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if strings.HasPrefix(uri, "data:") {
		return decodeDataURI(uri)
	}

	target := c.Resolve(uri)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Response{Status: StatusUnknownError, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.opts.Limiter.Wait(reqCtx, u.Host); err != nil {
		// The limiter refuses early when the wait would outlive the deadline.
		status := StatusTimeout
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			status = ClassifyError(ctx, ctxErr)
		}
		return Response{Status: status, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Response{Status: StatusUnknownError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	c.logger.Debug("fetch request", "uri", target)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return Response{Status: ClassifyError(ctx, err), Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	status := HTTPStatus(resp.StatusCode)
	if status != StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
		return Response{
			Status: status,
			Header: resp.Header,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return Response{Status: ClassifyError(ctx, err), Header: resp.Header, Err: fmt.Errorf("read response: %w", err)}
	}

	payload, err := DecodeJSON(body)
	return Response{Status: StatusOK, Payload: payload, Header: resp.Header, Err: err}
}

// DecodeJSON decodes a metadata document, keeping numbers as json.Number.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeMalformedPayload, "decode metadata json")
	}
	return v, nil
}

// decodeDataURI handles inline "data:application/json[;base64],..." documents.
func decodeDataURI(uri string) Response {
	meta, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return Response{Status: StatusOK, Err: domainerrors.MalformedPayload("data uri has no payload")}
	}

	var body []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Response{Status: StatusOK, Err: domainerrors.Wrap(err, domainerrors.CodeMalformedPayload, "decode base64 data uri")}
		}
		body = decoded
	} else {
		unescaped, err := url.PathUnescape(data)
		if err != nil {
			return Response{Status: StatusOK, Err: domainerrors.Wrap(err, domainerrors.CodeMalformedPayload, "unescape data uri")}
		}
		body = []byte(unescaped)
	}

	payload, err := DecodeJSON(body)
	return Response{Status: StatusOK, Payload: payload, Err: err}
}
