package classify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

var ErrConfigNotFound = errors.New("classify: runner config not found")

// Config is a runner config: one templated request, the keyword tables that
// classify its response and the values captured from it.
type Config struct {
	Name       string
	Request    Request
	Keys       Keys
	Captures   []Capture
	Classifier *KeywordClassifier
}

type Request struct {
	Method  string            `ini:"method"`
	URL     string            `ini:"url"`
	Body    string            `ini:"body"`
	Timeout time.Duration     `ini:"-"`
	Headers map[string]string `ini:"-"`
}

// Capture extracts the first group of Regex from the response body.
type Capture struct {
	Name  string
	Regex *regexp.Regexp
}

const customPrefix = "custom."

// Bodies and capture patterns routinely contain '#' and ';'.
var loadOptions = ini.LoadOptions{IgnoreInlineComment: true}

// LoadConfig reads a runner config from an INI file.
func LoadConfig(path string) (*Config, error) {
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to load runner config: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return parseConfig(name, f)
}

// ParseConfig reads a runner config from INI source.
func ParseConfig(name string, data []byte) (*Config, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse runner config: %w", err)
	}
	return parseConfig(name, f)
}

func parseConfig(name string, f *ini.File) (*Config, error) {
	cfg := &Config{Name: name}

	reqSec := f.Section("request")
	if err := reqSec.MapTo(&cfg.Request); err != nil {
		return nil, fmt.Errorf("invalid [request] section: %w", err)
	}
	if cfg.Request.URL == "" {
		return nil, fmt.Errorf("runner config %s: [request] url is required", name)
	}
	if cfg.Request.Method == "" {
		cfg.Request.Method = "GET"
	}
	cfg.Request.Method = strings.ToUpper(cfg.Request.Method)
	cfg.Request.Timeout = time.Duration(reqSec.Key("timeout").MustInt(10)) * time.Second

	cfg.Request.Headers = make(map[string]string)
	for _, key := range f.Section("headers").Keys() {
		cfg.Request.Headers[key.Name()] = key.Value()
	}

	keys, err := parseKeys(f.Section("keys"))
	if err != nil {
		return nil, fmt.Errorf("runner config %s: %w", name, err)
	}
	cfg.Keys = keys
	cfg.Classifier = NewKeywordClassifier(keys)

	for _, key := range f.Section("capture").Keys() {
		re, err := regexp.Compile(key.Value())
		if err != nil {
			return nil, fmt.Errorf("runner config %s: capture %s: %w", name, key.Name(), err)
		}
		cfg.Captures = append(cfg.Captures, Capture{Name: key.Name(), Regex: re})
	}
	return cfg, nil
}

func parseKeys(sec *ini.Section) (Keys, error) {
	keys := Keys{
		Success: splitList(sec.Key("success").String()),
		Fail:    splitList(sec.Key("fail").String()),
		Ban:     splitList(sec.Key("ban").String()),
		Retry:   splitList(sec.Key("retry").String()),
		Error:   splitList(sec.Key("error").String()),
		NoMatch: FailResult,
	}

	var customs []CustomKeys
	for _, key := range sec.Keys() {
		if !strings.HasPrefix(key.Name(), customPrefix) {
			continue
		}
		name := strings.TrimPrefix(key.Name(), customPrefix)
		if name == "" {
			return Keys{}, fmt.Errorf("custom status without a name")
		}
		customs = append(customs, CustomKeys{Name: name, Keywords: splitList(key.Value())})
	}
	sort.SliceStable(customs, func(i, j int) bool { return customs[i].Name < customs[j].Name })
	keys.Custom = customs

	if v := sec.Key("no_match").String(); v != "" {
		keys.NoMatch = Parse(v)
		if keys.NoMatch.Kind == Custom && !hasCustom(customs, keys.NoMatch.Name) {
			return Keys{}, fmt.Errorf("no_match names unknown status %q", v)
		}
	}
	return keys, nil
}

func hasCustom(customs []CustomKeys, name string) bool {
	for _, c := range customs {
		if c.Name == name {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigStore resolves runner configs by name from a directory of INI files.
type ConfigStore struct {
	Dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{Dir: dir}
}

func (s *ConfigStore) Load(name string) (*Config, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid runner config name %q", name)
	}
	return LoadConfig(filepath.Join(s.Dir, name+".ini"))
}

// List returns the names of the configs in the directory.
func (s *ConfigStore) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.ini"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".ini"))
	}
	sort.Strings(names)
	return names, nil
}
