package proxysource

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"go-config-runner/internal/logger"
	"go-config-runner/internal/proxypool"
)

// FileSource reads one proxy per line. Lines that do not parse are logged
// and skipped.
type FileSource struct {
	Path        string
	DefaultType proxypool.Type
}

func NewFileSource(path string, defaultType proxypool.Type) *FileSource {
	return &FileSource{Path: path, DefaultType: defaultType}
}

func (s *FileSource) Name() string {
	return "file:" + s.Path
}

func (s *FileSource) Load(ctx context.Context) ([]proxypool.Proxy, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}

	proxies, errs := proxypool.ParseLines(lines, s.DefaultType)
	if len(errs) > 0 {
		log := logger.WithComponent("proxysource")
		log.Warn().Str("source", s.Name()).Int("invalid", len(errs)).Err(errs[0]).Msg("Skipped invalid proxy lines")
	}
	return proxies, nil
}
