// Command probe runs the NS and landing page probes once from the command
// line, without touching either store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"domainwarden/internal/logging"
	"domainwarden/internal/models"
	"domainwarden/internal/probe"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Resolvers []string      `short:"r" long:"resolver" description:"Recursive resolver host:port, tried in order" default:"1.1.1.1:53" default:"8.8.8.8:53"`
	Timeout   time.Duration `short:"t" long:"timeout" description:"Per-request timeout" default:"10s"`
	JSON      bool          `long:"json" description:"Print one JSON object per line"`
	LogLevel  string        `long:"log-level" description:"debug, info, warn, error or off" default:"warn"`
}

var opts Options

type nsCommand struct {
	Expected []string `short:"e" long:"expect" description:"Expected nameserver, repeatable or comma-separated"`
	Args     struct {
		Hosts []string `positional-arg-name:"host" required:"1"`
	} `positional-args:"yes"`
}

type healthCommand struct {
	Policy  string `short:"p" long:"policy" description:"Ban policy file (YAML or JSON)"`
	MaxBody int64  `long:"max-body" description:"Maximum response bytes read" default:"2097152"`
	Args    struct {
		URLs []string `positional-arg-name:"url" required:"1"`
	} `positional-args:"yes"`
}

func (c *nsCommand) Execute([]string) error {
	p := probe.NewNSProbe(probe.NSConfig{Resolvers: opts.Resolvers, Timeout: opts.Timeout})
	expected := (&models.EntryDomain{NSServers: strings.Join(c.Expected, ",")}).ExpectedNameservers()

	for _, host := range c.Args.Hosts {
		res := p.Probe(context.Background(), host, expected)
		if opts.JSON {
			printJSON(map[string]any{
				"host":     host,
				"status":   res.Status,
				"message":  res.Message,
				"current":  res.Current,
				"expected": res.Expected,
				"server":   res.Server,
			})
			continue
		}
		fmt.Printf("%-40s %-8s %s\n", host, res.Status, res.Message)
	}
	return nil
}

func (c *healthCommand) Execute([]string) error {
	policy := probe.DefaultBanPolicy()
	if c.Policy != "" {
		var err error
		if policy, err = probe.LoadBanPolicy(c.Policy); err != nil {
			return err
		}
	}
	p := probe.NewHealthProbe(probe.HealthConfig{Timeout: opts.Timeout, MaxBodySize: c.MaxBody, Policy: policy})

	for _, u := range c.Args.URLs {
		res := p.Probe(context.Background(), u)
		if opts.JSON {
			printJSON(map[string]any{
				"url":            res.URL,
				"status":         res.Status,
				"status_code":    res.StatusCode,
				"rule":           res.Rule,
				"title":          res.Title,
				"message":        res.Message,
				"policy_version": res.PolicyVersion,
			})
			continue
		}
		fmt.Printf("%-50s %-8s %3d %s\n", u, res.Status, res.StatusCode, res.Message)
	}
	return nil
}

func printJSON(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return
	}
	fmt.Println(string(line))
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		logging.SetLevel(opts.LogLevel)
		return cmd.Execute(args)
	}
	parser.AddCommand("ns", "Check nameserver delegation", "Resolve NS records and compare them with the expected set.", &nsCommand{})
	parser.AddCommand("health", "Check landing pages", "Fetch each URL and classify it against the ban policy.", &healthCommand{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
