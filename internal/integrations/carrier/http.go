package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/pkg/errors"
)

const maxBodyBytes = 4 << 20

// LoggingRoundTripper пишет в лог каждый запрос к перевозчику (без query, там бывают ключи).
type LoggingRoundTripper struct {
	Proxied http.RoundTripper
}

func (lrt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	resp, err := lrt.Proxied.RoundTrip(req)
	if err != nil {
		slog.Error("carrier http request failed",
			"method", req.Method, "url", target,
			"duration", time.Since(start), "error", err.Error())
		return nil, err
	}

	slog.Debug("carrier http request",
		"method", req.Method, "url", target,
		"status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &LoggingRoundTripper{Proxied: http.DefaultTransport},
		Timeout:   timeout,
	}
}

// Request describes one vendor HTTP call. Exactly one of JSON or Form may be set.
type Request struct {
	Method         string
	URL            string
	Header         http.Header
	JSON           any
	Form           url.Values
	TrackingNumber string
}

// DoJSON executes req, retrying transport errors and 502/503/504 up to MaxRetries times,
// and decodes a 2xx body into out. The raw body is returned for audit.
func (b *Base) DoJSON(ctx context.Context, req Request, out any) ([]byte, error) {
	retries := b.Config().MaxRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "retry wait")
			case <-time.After(time.Duration(200*attempt) * time.Millisecond):
			}
		}

		body, status, header, err := b.roundTrip(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		switch {
		case status/100 == 2:
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return body, errors.Wrap(err, "decode "+b.code+" response")
				}
			}
			return body, nil
		case status == http.StatusTooManyRequests:
			return body, &models.RateLimitError{CarrierCode: b.code, RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
		case status == http.StatusNotFound:
			return body, models.NewNotFoundError(b.code, req.TrackingNumber, snippet(body))
		case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
			lastErr = &models.APIError{CarrierCode: b.code, TrackingNumber: req.TrackingNumber, StatusCode: status, Message: snippet(body)}
			continue
		default:
			return body, &models.APIError{CarrierCode: b.code, TrackingNumber: req.TrackingNumber, StatusCode: status, Message: snippet(body)}
		}
	}
	return nil, lastErr
}

func (b *Base) roundTrip(ctx context.Context, req Request) ([]byte, int, http.Header, error) {
	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		buf, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, 0, nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "new request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := b.HTTPClient().Do(httpReq)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, errors.Wrap(err, "read body")
	}
	return data, resp.StatusCode, resp.Header, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
		return time.Duration(sec) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

const maxSnippetBytes = 300

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippetBytes {
		cut := maxSnippetBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}

// JoinURL склеивает base URL и путь без двойных слешей.
func JoinURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func Bearer(token string) string { return fmt.Sprintf("Bearer %s", token) }
