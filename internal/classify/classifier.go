package classify

import "strings"

// Classifier maps the status signals of one execution to a Classification.
type Classifier interface {
	Classify(signals []string) Classification
}

// Rule assigns Result when any keyword occurs in any signal.
type Rule struct {
	Result   Classification
	Keywords []string
}

// KeywordClassifier evaluates its rules in order and returns the first match,
// or NoMatch when nothing matched.
type KeywordClassifier struct {
	Rules   []Rule
	NoMatch Classification
}

// NewKeywordClassifier orders the keyword lists by precedence: ban, retry,
// fail, error, custom statuses (in the given order) and success last.
func NewKeywordClassifier(keys Keys) *KeywordClassifier {
	c := &KeywordClassifier{NoMatch: keys.NoMatch}
	add := func(result Classification, kws []string) {
		if len(kws) > 0 {
			c.Rules = append(c.Rules, Rule{Result: result, Keywords: kws})
		}
	}
	add(BanResult, keys.Ban)
	add(RetryResult, keys.Retry)
	add(FailResult, keys.Fail)
	add(ErrorResult, keys.Error)
	for _, cs := range keys.Custom {
		add(CustomStatus(cs.Name), cs.Keywords)
	}
	add(SuccessResult, keys.Success)
	return c
}

func (c *KeywordClassifier) Classify(signals []string) Classification {
	for _, rule := range c.Rules {
		if matchAny(signals, rule.Keywords) {
			return rule.Result
		}
	}
	return c.NoMatch
}

func matchAny(signals, keywords []string) bool {
	for _, kw := range keywords {
		for _, s := range signals {
			if strings.Contains(s, kw) {
				return true
			}
		}
	}
	return false
}

// Keys are the keyword lists of a runner config.
type Keys struct {
	Success []string
	Fail    []string
	Ban     []string
	Retry   []string
	Error   []string
	Custom  []CustomKeys
	NoMatch Classification
}

type CustomKeys struct {
	Name     string
	Keywords []string
}
