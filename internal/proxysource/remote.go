package proxysource

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

// RemoteSource fetches a proxy list over HTTP. The body is either plain text
// with one proxy per line, or a JSON document: an array of strings, or an
// object whose "data" (or "proxies") field is one.
type RemoteSource struct {
	URL         string
	DefaultType proxypool.Type
	httpClient  *http.Client
}

func NewRemoteSource(url string, defaultType proxypool.Type) *RemoteSource {
	return &RemoteSource{
		URL:         url,
		DefaultType: defaultType,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *RemoteSource) Name() string {
	return "remote:" + s.URL
}

type remoteListResponse struct {
	Data    []string `json:"data"`
	Proxies []string `json:"proxies"`
}

func (s *RemoteSource) Load(ctx context.Context) ([]proxypool.Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	lines, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	proxies, _ := proxypool.ParseLines(lines, s.DefaultType)
	return proxies, nil
}

func decodeList(body []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var list []string
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return list, nil
	case strings.HasPrefix(trimmed, "{"):
		var obj remoteListResponse
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(obj.Data) > 0 {
			return obj.Data, nil
		}
		return obj.Proxies, nil
	}
	return strings.Split(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\n"), nil
}
