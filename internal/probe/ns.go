// Package probe holds the stateless checks run by the reconciliation jobs:
// nameserver propagation of entry domains and reachability/ban detection of
// landing pages. Probes never return errors; every failure becomes a status.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"domainwarden/internal/metrics"
	"domainwarden/internal/models"

	"github.com/miekg/dns"
)

var (
	ErrNXDomain = errors.New("domain does not exist")
	ErrNoNS     = errors.New("no NS records")
)

// NSResult is the outcome of one nameserver propagation check.
type NSResult struct {
	Status   models.NSStatus
	Message  string
	Current  []string
	Expected []string
	Server   string
}

// NSConfig holds NS probe configuration
type NSConfig struct {
	Resolvers []string
	Timeout   time.Duration
}

// NSProbe resolves NS records through public recursive resolvers.
type NSProbe struct {
	resolvers []string
	timeout   time.Duration
	client    *dns.Client
}

func NewNSProbe(config NSConfig) *NSProbe {
	if len(config.Resolvers) == 0 {
		config.Resolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &NSProbe{
		resolvers: config.Resolvers,
		timeout:   config.Timeout,
		client:    &dns.Client{Timeout: config.Timeout},
	}
}

// Probe checks whether host delegates to (at least) the expected nameservers.
// With no expectation it returns unknown without touching the network.
func (p *NSProbe) Probe(ctx context.Context, host string, expected []string) NSResult {
	res := p.probe(ctx, host, expected)
	metrics.ProbeResults.WithLabelValues("ns", string(res.Status)).Inc()
	return res
}

func (p *NSProbe) probe(ctx context.Context, host string, expected []string) NSResult {
	want := normalizeNames(expected)
	if len(want) == 0 {
		return NSResult{Status: models.NSStatusUnknown, Message: "no expected nameservers configured"}
	}

	current, server, err := p.lookupNS(ctx, host)
	if err != nil {
		res := NSResult{Status: models.NSStatusFailed, Expected: want, Server: server}
		switch {
		case errors.Is(err, ErrNXDomain):
			res.Message = "domain does not exist"
		case errors.Is(err, ErrNoNS):
			res.Message = "no NS records for " + host
		default:
			res.Message = "DNS query failed: " + err.Error()
		}
		return res
	}

	status, msg := ClassifyNS(current, want)
	return NSResult{Status: status, Message: msg, Current: normalizeNames(current), Expected: want, Server: server}
}

// lookupNS asks each resolver in turn; the first authoritative answer
// (NOERROR or NXDOMAIN) wins, transport errors and SERVFAIL fall through.
func (p *NSProbe) lookupNS(ctx context.Context, host string) ([]string, string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeNS)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range p.resolvers {
		qctx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, _, err := p.client.ExchangeContext(qctx, msg, server)
		cancel()

		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			continue
		}
		if resp == nil {
			lastErr = fmt.Errorf("%s: empty response", server)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			var names []string
			for _, rr := range resp.Answer {
				if ns, ok := rr.(*dns.NS); ok {
					names = append(names, ns.Ns)
				}
			}
			if len(names) == 0 {
				return nil, server, ErrNoNS
			}
			return names, server, nil
		case dns.RcodeNameError:
			return nil, server, ErrNXDomain
		default:
			lastErr = fmt.Errorf("%s: rcode %s", server, dns.RcodeToString[resp.Rcode])
		}

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no resolvers configured")
	}
	return nil, "", lastErr
}

// ClassifyNS applies the containment rule: active iff every expected name
// is present in current. Comparison ignores case, order and trailing dots.
func ClassifyNS(current, expected []string) (models.NSStatus, string) {
	cur := normalizeNames(current)
	want := normalizeNames(expected)

	have := make(map[string]struct{}, len(cur))
	for _, ns := range cur {
		have[ns] = struct{}{}
	}
	for _, ns := range want {
		if _, ok := have[ns]; !ok {
			return models.NSStatusPending, fmt.Sprintf("NS records not active yet. current: %s; expected: %s",
				strings.Join(cur, ", "), strings.Join(want, ", "))
		}
	}
	return models.NSStatusActive, fmt.Sprintf("NS records active. current: %s; expected: %s",
		strings.Join(cur, ", "), strings.Join(want, ", "))
}

func normalizeNames(names []string) []string {
	return models.NormalizeNameservers(names)
}
