package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"domainwarden/internal/metrics"
	"domainwarden/internal/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxRedirects     = 10
	maxTitleRunes    = 80
)

// HealthResult is the outcome of one landing page check.
type HealthResult struct {
	URL           string
	Status        models.LandingStatus
	StatusCode    int
	Rule          string
	Title         string
	Message       string
	PolicyVersion string
}

// HealthConfig holds health probe configuration
type HealthConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	Policy      *BanPolicy
}

// HealthProbe fetches a landing page like a browser would and classifies it
// with a BanPolicy.
type HealthProbe struct {
	client      *http.Client
	timeout     time.Duration
	maxBodySize int64
	policy      *BanPolicy
}

func NewHealthProbe(config HealthConfig) *HealthProbe {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 2 << 20
	}
	if config.Policy == nil {
		config.Policy = DefaultBanPolicy()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: config.Timeout,
		}).DialContext,
		TLSHandshakeTimeout:   config.Timeout,
		ResponseHeaderTimeout: config.Timeout,
		DisableKeepAlives:     true,
		TLSClientConfig: &tls.Config{
			// Landing pages frequently run on self-signed or mismatched certs.
			InsecureSkipVerify: true,
		},
	}

	return &HealthProbe{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		timeout:     config.Timeout,
		maxBodySize: config.MaxBodySize,
		policy:      config.Policy,
	}
}

// Policy returns the policy in use.
func (p *HealthProbe) Policy() *BanPolicy {
	return p.policy
}

// Probe classifies rawURL as ok or banned. Any failure along the way is banned.
func (p *HealthProbe) Probe(ctx context.Context, rawURL string) HealthResult {
	res := p.probe(ctx, rawURL)
	res.URL = rawURL
	res.PolicyVersion = p.policy.Version
	metrics.ProbeResults.WithLabelValues("health", string(res.Status)).Inc()
	return res
}

func (p *HealthProbe) probe(ctx context.Context, rawURL string) HealthResult {
	if !HasHTTPScheme(rawURL) {
		return HealthResult{Status: models.LandingStatusBanned, Rule: "scheme", Message: "URL must start with http:// or https://"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return HealthResult{Status: models.LandingStatusBanned, Rule: "transport", Message: "invalid request: " + err.Error()}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return HealthResult{Status: models.LandingStatusBanned, Rule: "transport", Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	body, err := p.readBody(resp)
	if err != nil {
		return HealthResult{
			Status:     models.LandingStatusBanned,
			StatusCode: resp.StatusCode,
			Rule:       "transport",
			Message:    "reading body failed: " + err.Error(),
		}
	}

	verdict := p.policy.Evaluate(resp.StatusCode, body)
	title := pageTitle(body)
	msg := verdict.Detail
	if title != "" {
		msg += ", title " + fmt.Sprintf("%q", title)
	}
	return HealthResult{
		Status:     verdict.Status,
		StatusCode: resp.StatusCode,
		Rule:       verdict.Rule,
		Title:      title,
		Message:    msg,
	}
}

// readBody reads at most maxBodySize bytes and converts them to UTF-8 using
// the declared or sniffed charset.
func (p *HealthProbe) readBody(resp *http.Response) (string, error) {
	limited := io.LimitReader(resp.Body, p.maxBodySize)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}

	r, err := charset.NewReader(strings.NewReader(string(raw)), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

func pageTitle(body string) string {
	if body == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	title := strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}
	return title
}

// HasHTTPScheme reports whether rawURL is an absolute http(s) URL with a host.
func HasHTTPScheme(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
