package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-config-runner/internal/proxypool"
)

// CheckResult is the outcome of one proxy check.
type CheckResult struct {
	Working bool
	Latency time.Duration
	Country string
	Status  int
}

// ProxyChecker validates a proxy by fetching Target through it. A proxy is
// working when the response status is below 400 and, if Key is set, the body
// contains Key.
type ProxyChecker struct {
	Target  string
	Key     string
	Timeout time.Duration
}

func NewProxyChecker(target, key string, timeout time.Duration) *ProxyChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProxyChecker{Target: target, Key: key, Timeout: timeout}
}

type geoResponse struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	CC          string `json:"country_code"`
}

// Check returns a NetworkError when the proxy could not be used at all.
func (c *ProxyChecker) Check(ctx context.Context, px *proxypool.Proxy) (CheckResult, error) {
	transport, err := proxypool.Transport(px, c.Timeout)
	if err != nil {
		return CheckResult{}, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport}

	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.Target, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{}, classifyTransportError(ctx, "proxy check", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CheckResult{}, classifyTransportError(ctx, "proxy check", err)
	}
	latency := time.Since(start)

	res := CheckResult{
		Latency: latency,
		Status:  resp.StatusCode,
		Working: resp.StatusCode < 400 && (c.Key == "" || strings.Contains(string(raw), c.Key)),
	}

	var geo geoResponse
	if json.Unmarshal(raw, &geo) == nil {
		switch {
		case geo.CountryCode != "":
			res.Country = geo.CountryCode
		case geo.CC != "":
			res.Country = geo.CC
		default:
			res.Country = geo.Country
		}
	}
	return res, nil
}

// Execute lets a checker run as an executor: the target is fetched through px
// and the signals are "WORKING" or "NOT_WORKING".
func (c *ProxyChecker) Execute(ctx context.Context, _ Input, px *proxypool.Proxy) (Result, error) {
	res, err := c.Check(ctx, px)
	if err != nil {
		return Result{}, err
	}
	signal := "NOT_WORKING"
	if res.Working {
		signal = "WORKING"
	}
	captured := map[string]string{"latency": res.Latency.String()}
	if res.Country != "" {
		captured["country"] = res.Country
	}
	return Result{Captured: captured, Signals: []string{signal}}, nil
}
