// Package webhook performs outbound HTTP calls for web-hook actions and
// system hooks, and renders the diagnostics markdown attached to action
// results. The client never returns an error for a completed HTTP
// exchange: a 4xx/5xx response is still a transport-level success, and
// interpreting status codes is the caller's concern.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/purpose168/xyops/internal/core"
	logx "github.com/purpose168/xyops/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second
	redirectLimit  = 32
	maxBodyCapture = 1 << 20
)

type Client struct {
	log logx.Logger
}

func NewClient(log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{log: log}
}

// Result captures one web-hook call. Code is "" when the HTTP exchange
// completed (regardless of status code) and "webhook" on transport
// failure. Details is the markdown audit block and is always populated.
type Result struct {
	Code        string
	Description string
	Details     string

	StatusCode int
	Status     string
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
	FinalURL   string
}

// Call issues the HTTP request described by def against the already
// rendered URL, headers and body, honoring the definition's retry count,
// redirect policy, timeouts, and SSL-verification bypass.
func (c *Client) Call(ctx context.Context, def *core.WebHookDefinition, url string, headers http.Header, body []byte) *Result {
	method := strings.ToUpper(strings.TrimSpace(def.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodGet || method == http.MethodHead {
		body = nil // GET/HEAD never send a body
	}

	timeout := defaultTimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Second
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       timeout,
	}
	if def.SSLCertBypass {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !def.Follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= redirectLimit {
				return fmt.Errorf("stopped after %d redirects", redirectLimit)
			}
			return nil
		},
	}
	defer transport.CloseIdleConnections()

	res := &Result{FinalURL: url}
	started := time.Now()

	attempts := def.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var resp *http.Response
	var callErr error
	for i := 0; i < attempts; i++ {
		res.Attempts = i + 1
		resp, callErr = c.attempt(ctx, client, method, url, headers, body, timeout)
		if callErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Elapsed = time.Since(started)

	if callErr != nil {
		res.Code = core.CodeWebHook
		res.Description = callErr.Error()
	} else {
		res.StatusCode = resp.StatusCode
		res.Status = resp.Status
		res.FinalURL = resp.Request.URL.String()
		res.Body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
		_ = resp.Body.Close()
		res.Description = "Success (HTTP " + resp.Status + ")"
	}

	res.Details = c.renderDetails(def, method, url, headers, body, resp, res)
	return res
}

func (c *Client) attempt(ctx context.Context, client *http.Client, method, url string, headers http.Header, body []byte, timeout time.Duration) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		cancel()
		return nil, err
	}
	for name, vals := range headers {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// Release the request context only after the body is consumed.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) renderDetails(def *core.WebHookDefinition, method, url string, headers http.Header, body []byte, resp *http.Response, res *Result) string {
	var b strings.Builder

	redirects := "n/a"
	if def.Follow {
		redirects = "Follow"
	}
	retries := "None"
	if def.Retries > 0 {
		retries = fmt.Sprintf("%d", def.Retries)
	}
	timeout := int64(defaultTimeout / time.Second)
	if def.Timeout > 0 {
		timeout = def.Timeout
	}

	fmt.Fprintf(&b, "- **Method:** %s\n", method)
	fmt.Fprintf(&b, "- **URL:** %s\n", url)
	fmt.Fprintf(&b, "- **Redirects:** %s\n", redirects)
	fmt.Fprintf(&b, "- **Max Retries:** %s\n", retries)
	fmt.Fprintf(&b, "- **Timeout:** %s\n", secondsText(timeout))

	if len(headers) > 0 {
		b.WriteString("\n**Request Headers:**\n\n```http\n")
		for _, name := range sortedKeys(headers) {
			for _, v := range headers[name] {
				fmt.Fprintf(&b, "%s: %s\n", name, v)
			}
		}
		b.WriteString("```\n")
	}

	if len(body) > 0 {
		b.WriteString("\n**Request Body:**\n\n```\n")
		b.WriteString(strings.TrimSpace(string(body)))
		b.WriteString("\n```\n")
	}

	if resp != nil {
		fmt.Fprintf(&b, "\n**Response:** HTTP %s\n", resp.Status)
		b.WriteString("\n**Response Headers:**\n\n```http\n")
		for _, name := range sortedKeys(resp.Header) {
			for _, v := range resp.Header[name] {
				fmt.Fprintf(&b, "%s: %s\n", name, v)
			}
		}
		b.WriteString("```\n")

		if len(res.Body) > 0 {
			b.WriteString("\n**Response Body:**\n\n```\n")
			b.WriteString(strings.TrimSpace(string(res.Body)))
			b.WriteString("\n```\n")
		}

		perf, _ := json.MarshalIndent(map[string]any{
			"elapsed_ms": res.Elapsed.Milliseconds(),
			"attempts":   res.Attempts,
		}, "", "\t")
		fmt.Fprintf(&b, "\n**Performance Metrics:**\n\n```json\n%s\n```\n", perf)
	}

	return b.String()
}

// PostJSON fires a JSON POST with a short fixed timeout. It is used by
// system hooks, which are fire-and-forget; the response body is discarded.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) (status string, err error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyCapture))
	return resp.Status, nil
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func secondsText(sec int64) string {
	if sec < 60 {
		return fmt.Sprintf("%d seconds", sec)
	}
	if sec%60 == 0 {
		return fmt.Sprintf("%d minutes", sec/60)
	}
	return fmt.Sprintf("%d minutes %d seconds", sec/60, sec%60)
}

// ErrNotFound reports a web-hook id that has no definition.
var ErrNotFound = errors.New("web hook not found")
