package job

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go-config-runner/internal/classify"
)

// Data source types.
const (
	DataFile         = "file"
	DataLines        = "lines"
	DataRange        = "range"
	DataCombinations = "combinations"
	DataInfinite     = "infinite"
)

// Proxy source types.
const (
	ProxyFile  = "file"
	ProxyURL   = "url"
	ProxyGroup = "group"
	ProxyLines = "lines"
)

// Definition is the persisted description of a job.
type Definition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Bots int    `json:"bots"`

	// Config names a runner config in the config directory.
	Config  string     `json:"config,omitempty"`
	Data    DataSpec   `json:"data"`
	Proxies *ProxySpec `json:"proxies,omitempty"`

	MaxRetries         int                       `json:"max_retries"`
	BanLoopEvasion     int                       `json:"ban_loop_evasion"`
	Capture            []classify.Classification `json:"capture,omitempty"`
	ItemTimeoutSeconds int                       `json:"item_timeout_seconds,omitempty"`
	ProxyWaitMs        int                       `json:"proxy_wait_ms,omitempty"`
	StartAt            int64                     `json:"start_at,omitempty"`

	// Proxy-check jobs only.
	CheckTarget string `json:"check_target,omitempty"`
	CheckKey    string `json:"check_key,omitempty"`
}

type DataSpec struct {
	Type    string   `json:"type"`
	Path    string   `json:"path,omitempty"`
	Lines   []string `json:"lines,omitempty"`
	Start   int64    `json:"start,omitempty"`
	Step    int64    `json:"step,omitempty"`
	Count   int64    `json:"count,omitempty"`
	Charset string   `json:"charset,omitempty"`
	Length  int      `json:"length,omitempty"`
	// Regex drops lines that do not match.
	Regex string `json:"regex,omitempty"`
}

type ProxySpec struct {
	Source string   `json:"source"`
	Path   string   `json:"path,omitempty"`
	URL    string   `json:"url,omitempty"`
	Group  string   `json:"group,omitempty"`
	Lines  []string `json:"lines,omitempty"`
	// Type is assumed for lines without a scheme.
	Type string `json:"type,omitempty"`
	// Also lists more sources loaded together with this one.
	Also []ProxySpec `json:"also,omitempty"`

	MaxUses            int  `json:"max_uses,omitempty"`
	MaxFailures        int  `json:"max_failures,omitempty"`
	AllowDegraded      bool `json:"allow_degraded,omitempty"`
	AllowConcurrentUse bool `json:"allow_concurrent_use,omitempty"`
}

// Validate checks the definition without touching any external resource.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Bots < 1 {
		errs = append(errs, ErrInvalidBots)
	}
	if d.MaxRetries < 0 || d.BanLoopEvasion < 0 {
		errs = append(errs, errors.New("max_retries and ban_loop_evasion must not be negative"))
	}
	if d.StartAt < 0 {
		errs = append(errs, errors.New("start_at must not be negative"))
	}

	switch d.Kind {
	case MultiRun:
		if d.Config == "" {
			errs = append(errs, errors.New("config is required"))
		}
		if err := d.Data.validate(); err != nil {
			errs = append(errs, err)
		}
	case ProxyCheck:
		if d.CheckTarget == "" {
			errs = append(errs, errors.New("check_target is required"))
		}
		if d.Proxies == nil {
			errs = append(errs, ErrNoProxySrc)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", d.Kind))
	}

	if d.Proxies != nil {
		if err := d.Proxies.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s DataSpec) validate() error {
	switch s.Type {
	case DataFile:
		if s.Path == "" {
			return errors.New("data path is required")
		}
	case DataLines:
		if len(s.Lines) == 0 {
			return errors.New("data lines are required")
		}
	case DataRange:
		if s.Count < 0 {
			return errors.New("range count must not be negative")
		}
	case DataCombinations:
		if s.Charset == "" || s.Length < 1 {
			return errors.New("combinations need a charset and a length")
		}
	case DataInfinite:
	default:
		return fmt.Errorf("unknown data type %q", s.Type)
	}
	if s.Regex != "" {
		if _, err := regexp.Compile(s.Regex); err != nil {
			return fmt.Errorf("invalid data regex: %w", err)
		}
	}
	return nil
}

func (s ProxySpec) validate() error {
	switch s.Source {
	case ProxyFile:
		if s.Path == "" {
			return errors.New("proxy path is required")
		}
	case ProxyURL:
		if s.URL == "" {
			return errors.New("proxy url is required")
		}
	case ProxyGroup:
		if s.Group == "" {
			return errors.New("proxy group is required")
		}
	case ProxyLines:
		if len(s.Lines) == 0 {
			return errors.New("proxy lines are required")
		}
	default:
		return fmt.Errorf("unknown proxy source %q", s.Source)
	}
	for _, more := range s.Also {
		if len(more.Also) > 0 {
			return errors.New("nested proxy sources are not supported")
		}
		if err := more.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Settings derives the run settings of the definition.
func (d *Definition) Settings() Settings {
	s := Settings{
		Bots:           d.Bots,
		UseProxies:     d.Proxies != nil,
		MaxRetries:     d.MaxRetries,
		BanLoopEvasion: d.BanLoopEvasion,
		Capture:        d.Capture,
		ItemTimeout:    time.Duration(d.ItemTimeoutSeconds) * time.Second,
		ProxyWait:      time.Duration(d.ProxyWaitMs) * time.Millisecond,
		StartAt:        d.StartAt,
	}
	if s.ProxyWait == 0 && s.UseProxies {
		s.ProxyWait = 5 * time.Second
	}
	return s
}
