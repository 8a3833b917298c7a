// Package fetch executes single HTTP interactions for the driver, mapping
// transport outcomes onto the framework's typed errors.
package fetch

import (
	"bufio"
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

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// Manager turns one request into a response. Status codes >= 500 and 429
// surface as *scrape.ResponseError, timeouts as *scrape.TimeoutError; both
// are transient.
type Manager interface {
	Resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, error)
	Close() error
}

// SyncManager is the plain HTTP manager. A single instance may be shared
// across driver workers; the underlying client pools connections.
type SyncManager struct {
	client *http.Client
	options
}

func NewSyncManager(opts ...Option) *SyncManager {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if options.proxy != nil {
		transport.Proxy = options.proxy
	}
	if options.tlsConfig != nil {
		transport.TLSClientConfig = options.tlsConfig
	}

	return &SyncManager{
		client: &http.Client{
			Timeout:   options.timeout,
			Transport: transport,
		},
		options: options,
	}
}

func (m *SyncManager) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

func (m *SyncManager) Resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, error) {
	if m.limit != nil {
		if err := m.limit.Wait(ctx); err != nil {
			return nil, err
		}
	}

	httpReq, err := m.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &scrape.TimeoutError{
				URL:            req.HTTP.URL,
				TimeoutSeconds: m.timeout.Seconds(),
			}
		}
		return nil, fmt.Errorf("fetch %s: %w", req.HTTP.URL, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &scrape.TimeoutError{
				URL:            req.HTTP.URL,
				TimeoutSeconds: m.timeout.Seconds(),
			}
		}
		return nil, fmt.Errorf("read body %s: %w", req.HTTP.URL, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &scrape.ResponseError{
			StatusCode:    resp.StatusCode,
			ExpectedCodes: []int{http.StatusOK},
			URL:           req.HTTP.URL,
		}
	}

	finalURL := req.HTTP.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	m.logger.Debug("resolved request",
		zap.String("url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(content)))

	return &scrape.Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Content:    content,
		Text:       decodeText(content, resp.Header.Get("Content-Type")),
		FinalURL:   finalURL,
		Request:    req,
	}, nil
}

func (m *SyncManager) buildRequest(ctx context.Context, req *scrape.Request) (*http.Request, error) {
	method := req.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	target := req.HTTP.URL
	if len(req.HTTP.Query) > 0 {
		values := url.Values{}
		for k, v := range req.HTTP.Query {
			values.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + values.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(req.HTTP.Form) > 0:
		values := url.Values{}
		for k, v := range req.HTTP.Form {
			values.Set(k, v)
		}
		body = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.HTTP.JSON != nil:
		encoded, err := json.Marshal(req.HTTP.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode json body for %s: %w", req.HTTP.URL, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case len(req.HTTP.Body) > 0:
		body = bytes.NewReader(req.HTTP.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.HTTP.URL, err)
	}

	for k, v := range req.HTTP.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if m.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", m.userAgent)
	}
	for k, v := range req.HTTP.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	return httpReq, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// decodeText decodes the body into UTF-8 text, sniffing the charset from
// the content-type header and the leading bytes.
func decodeText(content []byte, contentType string) string {
	e := determineEncoding(content, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), e.NewDecoder()))
	if err != nil {
		return string(content)
	}
	return string(decoded)
}

func determineEncoding(content []byte, contentType string) encoding.Encoding {
	r := bufio.NewReader(bytes.NewReader(content))
	peeked, err := r.Peek(min(1024, len(content)))
	if err != nil && len(peeked) == 0 {
		return unicode.UTF8
	}
	e, _, _ := charset.DetermineEncoding(peeked, contentType)
	return e
}
