package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/auth/jwt"
	"github.com/rhuss/proxified/pkg/bootstrap"
	"github.com/rhuss/proxified/pkg/config"
	"github.com/rhuss/proxified/pkg/dialer"
	"github.com/rhuss/proxified/pkg/mcp"
	"github.com/rhuss/proxified/pkg/storage"
)

var errUsage = errors.New("usage")

const usage = `usage: proxifiedctl [-config file] [-tenant id] [-server url [-token t]] [-json] <command> [args]

commands:
  parse <descriptor>
  list
  get <container-id>
  resolve <container-id>
  set [-init] <container-id> <descriptor>
  delete <container-id>
  probe [-timeout d] <container-id> <host:port>
  token [-subject s] [-tier t] [-ttl d]
`

// globals holds the flags shared by every command.
type globals struct {
	configPath string
	tenant     string
	server     string
	token      string
	json       bool
}

type command func(ctx context.Context, g globals, args []string, out io.Writer) error

var commands = map[string]command{
	"parse":   cmdParse,
	"list":    withRegistry(cmdList),
	"get":     withRegistry(cmdGet),
	"resolve": withRegistry(cmdResolve),
	"set":     withRegistry(cmdSet),
	"delete":  withRegistry(cmdDelete),
	"probe":   withRegistry(cmdProbe),
	"token":   cmdToken,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("proxifiedctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	var g globals
	fs.StringVar(&g.configPath, "config", "", "path to the YAML configuration file")
	fs.StringVar(&g.tenant, "tenant", "", "tenant whose registry to operate on")
	fs.StringVar(&g.server, "server", "", "MCP endpoint of a running server, instead of opening the backend")
	fs.StringVar(&g.token, "token", os.Getenv("PROXIFIED_TOKEN"), "bearer token for -server")
	fs.BoolVar(&g.json, "json", false, "print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if g.server != "" && g.tenant != "" {
		fmt.Fprintln(stderr, "-tenant applies to local backends; a server derives the tenant from the token")
		return errUsage
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return errUsage
	}

	if g.tenant != "" {
		ctx = storage.SetTenant(ctx, g.tenant)
	}
	return cmd(ctx, g, fs.Args()[1:], stdout)
}

// containerRegistry is served by both the local registry and a remote
// server's MCP tools.
type containerRegistry interface {
	List(ctx context.Context) ([]api.Record, error)
	Retrieve(ctx context.Context, containerID string) (api.Record, error)
	RetrieveFromBackground(ctx context.Context, containerID string) api.ProxyDescriptor
	Set(ctx context.Context, containerID string, proxy api.ProxyDescriptor, initialize bool) (api.Record, error)
	Delete(ctx context.Context, containerID string) error
}

type registryCommand func(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error

// withRegistry opens the configured backend, or connects to -server, for
// the duration of a command.
func withRegistry(fn registryCommand) command {
	return func(ctx context.Context, g globals, args []string, out io.Writer) error {
		if g.server != "" {
			client, err := mcp.Dial(ctx, mcp.ClientConfig{URL: g.server, Token: g.token})
			if err != nil {
				return err
			}
			defer client.Close()
			return fn(ctx, g, client, args, out)
		}

		cfg, err := loadConfig(g)
		if err != nil {
			return err
		}
		reg, backend, err := bootstrap.NewRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()
		return fn(ctx, g, reg, args, out)
	}
}

func loadConfig(g globals) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	bootstrap.InitLogging(cfg.Logging)
	return cfg, nil
}

func exactArgs(name string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdParse(_ context.Context, g globals, args []string, out io.Writer) error {
	if err := exactArgs("parse", args, 1); err != nil {
		return err
	}
	p, ok := api.ParseProxy(args[0])
	if !ok {
		return fmt.Errorf("parse: %w", api.ErrNoProxyMatch)
	}
	if g.json {
		return writeJSON(out, p)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "type\t%s\n", p.Type)
	fmt.Fprintf(tw, "host\t%s\n", p.Host)
	if p.Port != "" {
		fmt.Fprintf(tw, "port\t%s\n", p.Port)
	}
	if p.Username != "" {
		fmt.Fprintf(tw, "username\t%s\n", p.Username)
	}
	return tw.Flush()
}

func cmdList(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	if err := exactArgs("list", args, 0); err != nil {
		return err
	}
	records, err := reg.List(ctx)
	if err != nil {
		return err
	}
	if g.json {
		return writeJSON(out, records)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tPROXY")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\n", rec.ContainerID, rec.Proxy.Redacted())
	}
	return tw.Flush()
}

func cmdGet(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	if err := exactArgs("get", args, 1); err != nil {
		return err
	}
	rec, err := reg.Retrieve(ctx, args[0])
	if err != nil {
		return err
	}
	if g.json {
		return writeJSON(out, rec)
	}
	_, err = fmt.Fprintf(out, "%s\t%s\n", rec.ContainerID, rec.Proxy.Redacted())
	return err
}

func cmdResolve(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	if err := exactArgs("resolve", args, 1); err != nil {
		return err
	}
	p := reg.RetrieveFromBackground(ctx, args[0])
	if g.json {
		return writeJSON(out, p)
	}
	_, err := fmt.Fprintln(out, p.Redacted())
	return err
}

func cmdSet(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	initialize := fs.Bool("init", false, "replace the whole collection with this mapping")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	if err := exactArgs("set", fs.Args(), 2); err != nil {
		return err
	}
	id := fs.Arg(0)
	if err := api.ValidateContainerID(id); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	p, err := api.ParseDescriptor(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	rec, err := reg.Set(ctx, id, p, *initialize)
	if err != nil {
		return err
	}
	if g.json {
		return writeJSON(out, rec)
	}
	_, err = fmt.Fprintf(out, "%s\t%s\n", rec.ContainerID, rec.Proxy.Redacted())
	return err
}

func cmdDelete(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	if err := exactArgs("delete", args, 1); err != nil {
		return err
	}
	if err := reg.Delete(ctx, args[0]); err != nil {
		return err
	}
	if g.json {
		return writeJSON(out, map[string]string{"deleted": args[0]})
	}
	_, err := fmt.Fprintf(out, "deleted %s\n", args[0])
	return err
}

func cmdProbe(ctx context.Context, g globals, reg containerRegistry, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	timeout := fs.Duration("timeout", 10*time.Second, "connect timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if err := exactArgs("probe", fs.Args(), 2); err != nil {
		return err
	}

	p := reg.RetrieveFromBackground(ctx, fs.Arg(0))
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := dialer.Probe(ctx, p, fs.Arg(1), dialer.WithTimeout(*timeout))
	if err != nil {
		return err
	}
	if g.json {
		return writeJSON(out, map[string]any{
			"container": fs.Arg(0),
			"proxy":     res.Proxy,
			"target":    res.Target,
			"latency":   res.Latency.String(),
		})
	}
	_, err = fmt.Fprintf(out, "%s reachable via %s in %s\n", res.Target, res.Proxy, res.Latency.Round(time.Millisecond))
	return err
}

func cmdToken(_ context.Context, g globals, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "proxifiedctl", "token subject")
	tier := fs.String("tier", "", "service tier claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if cfg.Auth.JWT.TenantClaim != "" && cfg.Auth.JWT.TenantClaim != "tenant_id" {
		return fmt.Errorf("token: custom tenant claim %q is not supported", cfg.Auth.JWT.TenantClaim)
	}

	token, err := jwt.Sign([]byte(cfg.Auth.JWT.Secret), jwt.Claims{
		Subject:  *subject,
		Tenant:   g.tenant,
		Tier:     *tier,
		Issuer:   cfg.Auth.JWT.Issuer,
		Audience: cfg.Auth.JWT.Audience,
		TTL:      *ttl,
	})
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
