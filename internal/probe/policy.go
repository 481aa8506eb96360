package probe

import (
	"fmt"
	"strings"

	"domainwarden/internal/models"

	"github.com/spf13/viper"
)

// RuleKind selects what a policy rule inspects.
type RuleKind string

const (
	RuleBodyKeyword  RuleKind = "body_keyword"
	RuleStatusMin    RuleKind = "status_min"
	RuleStatusEquals RuleKind = "status_equals"
)

// Rule is one entry of a BanPolicy. Verdict defaults to banned.
type Rule struct {
	Name     string               `mapstructure:"name"`
	Kind     RuleKind             `mapstructure:"kind"`
	Status   int                  `mapstructure:"status"`
	Keywords []string             `mapstructure:"keywords"`
	Verdict  models.LandingStatus `mapstructure:"verdict"`
}

// BanPolicy is the heuristic used to classify a fetched landing page.
// Rules are evaluated in order and the first match decides; a response no
// rule matches is ok. The version is carried into every result so fixtures
// can pin the behaviour they were written against.
type BanPolicy struct {
	Version string `mapstructure:"version"`
	Rules   []Rule `mapstructure:"rules"`
}

// Verdict is the policy decision for one response.
type Verdict struct {
	Status models.LandingStatus
	Rule   string
	Detail string
}

// DefaultKeywords are takedown and interception phrases seen on soft-block
// pages that are served with HTTP 200.
var DefaultKeywords = []string{
	"网络诈骗",
	"涉嫌诈骗",
	"国家反诈中心",
	"反诈中心",
	"该网站已被",
	"网站已被封",
	"停止访问",
	"违法违规",
	"申诉",
	"解封",
	"blacklist",
	"fraud",
	"stop access",
	"this site has been blocked",
	"deceptive site ahead",
}

func DefaultBanPolicy() *BanPolicy {
	return &BanPolicy{
		Version: "2025.1",
		Rules: []Rule{
			{Name: "takedown-keyword", Kind: RuleBodyKeyword, Keywords: DefaultKeywords},
			{Name: "server-error", Kind: RuleStatusMin, Status: 500},
			{Name: "not-found", Kind: RuleStatusEquals, Status: 404},
		},
	}
}

// LoadBanPolicy reads a policy from a YAML or JSON file.
func LoadBanPolicy(path string) (*BanPolicy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read ban policy %s: %w", path, err)
	}

	var policy BanPolicy
	if err := v.Unmarshal(&policy); err != nil {
		return nil, fmt.Errorf("failed to decode ban policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ban policy %s: %w", path, err)
	}
	return &policy, nil
}

func (p *BanPolicy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}
	for i, r := range p.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		switch r.Kind {
		case RuleBodyKeyword:
			if len(r.Keywords) == 0 {
				return fmt.Errorf("rule %q: keywords are required", r.Name)
			}
		case RuleStatusMin, RuleStatusEquals:
			if r.Status < 100 || r.Status > 599 {
				return fmt.Errorf("rule %q: status %d out of range", r.Name, r.Status)
			}
		default:
			return fmt.Errorf("rule %q: unknown kind %q", r.Name, r.Kind)
		}
		switch r.Verdict {
		case "", models.LandingStatusOK, models.LandingStatusBanned:
		default:
			return fmt.Errorf("rule %q: unknown verdict %q", r.Name, r.Verdict)
		}
	}
	return nil
}

// Evaluate classifies a response given its status code and UTF-8 body.
func (p *BanPolicy) Evaluate(statusCode int, body string) Verdict {
	lowered := ""
	for _, r := range p.Rules {
		var detail string
		matched := false

		switch r.Kind {
		case RuleBodyKeyword:
			if lowered == "" && body != "" {
				lowered = strings.ToLower(body)
			}
			for _, kw := range r.Keywords {
				if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
					matched, detail = true, fmt.Sprintf("HTTP %d, keyword %q", statusCode, kw)
					break
				}
			}
		case RuleStatusMin:
			if statusCode >= r.Status {
				matched, detail = true, fmt.Sprintf("HTTP %d >= %d", statusCode, r.Status)
			}
		case RuleStatusEquals:
			if statusCode == r.Status {
				matched, detail = true, fmt.Sprintf("HTTP %d", statusCode)
			}
		}

		if matched {
			verdict := r.Verdict
			if verdict == "" {
				verdict = models.LandingStatusBanned
			}
			return Verdict{Status: verdict, Rule: r.Name, Detail: detail}
		}
	}
	return Verdict{Status: models.LandingStatusOK, Rule: "default", Detail: fmt.Sprintf("HTTP %d", statusCode)}
}
