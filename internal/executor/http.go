package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/proxypool"
)

const maxBodyBytes = 4 << 20

// HTTPExecutor sends the request of a runner config with the input
// substituted into its placeholders: <INPUT> is the whole line, <USER> and
// <PASS> its two halves.
//
// Signals are "STATUS:<code>", "HEADER:<name>: <value>" for every response
// header and finally the body.
type HTTPExecutor struct {
	cfg *classify.Config
}

func NewHTTPExecutor(cfg *classify.Config) *HTTPExecutor {
	return &HTTPExecutor{cfg: cfg}
}

func (e *HTTPExecutor) Execute(ctx context.Context, in Input, px *proxypool.Proxy) (Result, error) {
	timeout := e.cfg.Request.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport, err := proxypool.Transport(px, timeout)
	if err != nil {
		return Result{}, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	user, pass := in.Credentials()
	subst := strings.NewReplacer("<INPUT>", in.Line, "<USER>", user, "<PASS>", pass)
	urlSubst := strings.NewReplacer(
		"<INPUT>", url.QueryEscape(in.Line),
		"<USER>", url.QueryEscape(user),
		"<PASS>", url.QueryEscape(pass),
	)

	var body io.Reader
	if e.cfg.Request.Body != "" {
		body = strings.NewReader(subst.Replace(e.cfg.Request.Body))
	}
	req, err := http.NewRequestWithContext(reqCtx, e.cfg.Request.Method, urlSubst.Replace(e.cfg.Request.URL), body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range e.cfg.Request.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = subst.Replace(v)
			continue
		}
		req.Header.Set(k, subst.Replace(v))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(ctx, "request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, classifyTransportError(ctx, "read body", err)
	}
	text := string(raw)

	signals := make([]string, 0, len(resp.Header)+2)
	signals = append(signals, "STATUS:"+strconv.Itoa(resp.StatusCode))
	for name, values := range resp.Header {
		for _, v := range values {
			signals = append(signals, "HEADER:"+name+": "+v)
		}
	}
	signals = append(signals, text)

	captured := make(map[string]string)
	for _, c := range e.cfg.Captures {
		if m := c.Regex.FindStringSubmatch(text); len(m) > 1 {
			captured[c.Name] = m[1]
		}
	}
	return Result{Captured: captured, Signals: signals}, nil
}

// classifyTransportError keeps cancellation of the caller's context as a
// plain context error and turns everything else into a NetworkError.
func classifyTransportError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
