// Command saltctl is the operator-facing CLI over the control-plane client:
// publish a command to a target expression and gather replies using one of
// the five result-aggregator shapes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/saltctl/internal/client"
	"github.com/mattjoyce/saltctl/internal/config"
	"github.com/mattjoyce/saltctl/internal/doctor"
	"github.com/mattjoyce/saltctl/internal/events"
	"github.com/mattjoyce/saltctl/internal/inspect"
	"github.com/mattjoyce/saltctl/internal/lock"
	"github.com/mattjoyce/saltctl/internal/log"
	"github.com/mattjoyce/saltctl/internal/publish"
	"github.com/mattjoyce/saltctl/internal/target"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	noun := cliArgs[0]
	args := cliArgs[1:]

	switch noun {
	case "cmd":
		return runCmd(args)
	case "run":
		return runRunJob(args)
	case "doctor":
		return runDoctor(args)
	case "inspect":
		return runInspect(args)
	case "version", "--version":
		fmt.Printf("saltctl %s (%s)\n", version, gitCommit)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", noun)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`saltctl - control-plane client for a master/minion execution framework

Usage:
  saltctl <noun> [flags]

Nouns:
  cmd       Publish a command and block until every target returns
  run       Publish a command and print its job id without waiting
  doctor    Validate the local configuration and runtime preconditions
  inspect   Show a job's on-disk replies
  version   Print build metadata

Run "saltctl <noun> --help" for flag details.
`)
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func runCmd(args []string) int {
	fs := pflag.NewFlagSet("cmd", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "/etc/salt/master", "path to the saltctl configuration file")
	tgtType := fs.String("target-type", "glob", "target kind")
	retSink := fs.String("return", "", "comma-joined list of return-sink names")
	timeoutSec := fs.Int("timeout", 0, "seconds; 0 means the configured default")
	verbose := fs.BoolP("verbose", "v", false, "print progress banners and missing minions")
	iterMode := fs.Bool("iter", false, "stream one-agent mappings instead of blocking for all")
	noBlock := fs.Bool("no-block", false, "fixed-timeout streaming, never extends (implies --iter)")
	lockFile := fs.String("lock-file", "", "path to a PID lock preventing overlapping invocations (e.g. from cron)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: saltctl cmd [flags] <target> <function> [arg...]")
		return 1
	}

	if *lockFile != "" {
		owner := fmt.Sprintf("%s %s", fs.Arg(0), fs.Arg(1))
		l, err := lock.AcquirePIDLock(*lockFile, owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "another invocation holds %s: %v\n", *lockFile, err)
			return 1
		}
		defer l.Release()
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if *verbose {
		log.Setup("DEBUG")
	} else {
		log.Setup("INFO")
	}

	tgt := fs.Arg(0)
	fun := fs.Arg(1)
	funArgs := toAnySlice(fs.Args()[2:])

	cl := newClient(cfg)
	ctx, stop := signalContext()
	defer stop()

	opts := client.CallOptions{
		Tgt:     tgt,
		TgtType: target.Kind(*tgtType),
		Fun:     fun,
		Arg:     funArgs,
		Ret:     *retSink,
		Timeout: time.Duration(*timeoutSec) * time.Second,
		Verbose: *verbose,
	}

	if *verbose {
		printResolvedTarget(ctx, opts.Tgt, opts.TgtType, cfg)
	}

	switch {
	case *noBlock:
		for id, r := range cl.CmdIterNoBlock(ctx, opts) {
			printAgentReply(id, r.Ret)
		}
	case *iterMode:
		for id, r := range cl.CmdIter(ctx, opts) {
			printAgentReply(id, r.Ret)
		}
	case *verbose:
		for id, r := range cl.CmdCli(ctx, opts) {
			printAgentReply(id, r.Ret)
		}
	default:
		result, err := cl.Cmd(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	}
	return 0
}

func runRunJob(args []string) int {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "/etc/salt/master", "path to the saltctl configuration file")
	tgtType := fs.String("target-type", "glob", "target kind")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: saltctl run [flags] <target> <function> [arg...]")
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	cl := newClient(cfg)
	ctx, stop := signalContext()
	defer stop()

	h, err := cl.RunJob(ctx, client.CallOptions{
		Tgt:     fs.Arg(0),
		TgtType: target.Kind(*tgtType),
		Fun:     fs.Arg(1),
		Arg:     toAnySlice(fs.Args()[2:]),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(h.JID)
	return 0
}

func runDoctor(args []string) int {
	fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "/etc/salt/master", "path to the saltctl configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "ERROR [%s/%s] %s\n", e.Category, e.Field, e.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "WARN  [%s/%s] %s\n", w.Category, w.Field, w.Message)
	}
	if !result.Valid {
		return 1
	}
	fmt.Println("saltctl: configuration OK")
	return 0
}

func runInspect(args []string) int {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "/etc/salt/master", "path to the saltctl configuration file")
	asJSON := fs.Bool("json", false, "emit the report as JSON instead of text")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: saltctl inspect [flags] <jid>")
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	jid := fs.Arg(0)
	ctx := context.Background()

	var out string
	if *asJSON {
		out, err = inspect.BuildJSONReport(ctx, cfg.CacheDir, cfg.HashType, jid, nil)
	} else {
		out, err = inspect.BuildReport(ctx, cfg.CacheDir, cfg.HashType, jid, nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return 0
}

func newClient(cfg *config.Config) *client.LocalClient {
	pub := publish.NewSocketPublisher(cfg.SockDir)
	bus := events.NewBus(256)
	return client.New(cfg, pub, bus)
}

func printAgentReply(id string, ret any) {
	data, err := json.Marshal(ret)
	if err != nil {
		fmt.Printf("%s:\n    %v\n", id, ret)
		return
	}
	fmt.Printf("%s:\n    %s\n", id, strings.TrimSpace(string(data)))
}

// printResolvedTarget shows the operator what a nodegroup/range target
// actually expanded to before publish, since the compound/list expression
// the wire sends is otherwise invisible in --verbose output.
func printResolvedTarget(ctx context.Context, tgt string, kind target.Kind, cfg *config.Config) {
	opts := target.ResolveOptions{Nodegroups: cfg.Nodegroups, ConfigPath: cfg.Path()}
	expr := target.Expression{Expr: tgt, Kind: kind}

	switch kind {
	case target.KindNodegroup:
		if resolved, err := target.NormalizeNodegroup(expr, opts); err == nil {
			fmt.Printf("Resolved nodegroup %q to %s\n", tgt, resolved)
		}
	case target.KindRange:
		if resolved, err := target.NormalizeRange(ctx, expr, opts); err == nil {
			fmt.Printf("Resolved range %q to %s\n", tgt, resolved)
		}
	}
}

func toAnySlice(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func signalContext() (context.Context, func()) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
