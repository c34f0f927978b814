// Package classify turns the raw status signals of one execution into a
// Classification using keyword tables loaded from a runner config.
package classify

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Success Kind = iota
	Custom
	Fail
	Ban
	Retry
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "SUCCESS"
	case Custom:
		return "CUSTOM"
	case Fail:
		return "FAIL"
	case Ban:
		return "BAN"
	case Retry:
		return "RETRY"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// ParseKind accepts the names produced by Kind.String, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return Success, nil
	case "CUSTOM":
		return Custom, nil
	case "FAIL":
		return Fail, nil
	case "BAN":
		return Ban, nil
	case "RETRY":
		return Retry, nil
	case "ERROR":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown classification %q", s)
}

// Classification is the verdict for one execution. Name is only set for
// Custom and holds the custom status name.
type Classification struct {
	Kind Kind
	Name string
}

var (
	SuccessResult = Classification{Kind: Success}
	FailResult    = Classification{Kind: Fail}
	BanResult     = Classification{Kind: Ban}
	RetryResult   = Classification{Kind: Retry}
	ErrorResult   = Classification{Kind: Error}
)

func CustomStatus(name string) Classification {
	return Classification{Kind: Custom, Name: name}
}

// Parse reads the String form back: a kind name or a custom status name.
func Parse(s string) Classification {
	if k, err := ParseKind(s); err == nil && k != Custom {
		return Classification{Kind: k}
	}
	return CustomStatus(strings.TrimSpace(s))
}

// String is the kind name, or the custom status name for Custom.
func (c Classification) String() string {
	if c.Kind == Custom {
		return c.Name
	}
	return c.Kind.String()
}

// Terminal reports whether the classification ends the item's processing.
func (c Classification) Terminal() bool {
	return c.Kind != Ban && c.Kind != Retry
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Classification) UnmarshalText(b []byte) error {
	*c = Parse(string(b))
	return nil
}
