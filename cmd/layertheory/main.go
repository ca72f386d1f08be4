package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
	"github.com/oklog/ulid/v2"

	"github.com/theory-cloud/layertheory/pkg/inspect"
	"github.com/theory-cloud/layertheory/pkg/logger"
	"github.com/theory-cloud/layertheory/pkg/manifest"
	"github.com/theory-cloud/layertheory/pkg/observability"
	obszap "github.com/theory-cloud/layertheory/pkg/observability/zap"
	"github.com/theory-cloud/layertheory/pkg/stack"
)

const usage = `usage: layertheory <command> [flags]

commands:
  synth    synthesize the layer stack described by a manifest
  inspect  compare a deployed layer version with its manifest entry
`

// newInspector and newNotifier are replaced in tests.
var newNotifier = obszap.NotifierFromEnvironment

var newInspector = func(ctx context.Context, log observability.StructuredLogger) (*inspect.Inspector, error) {
	return inspect.NewInspector(ctx, inspect.WithLogger(log))
}

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	jsii.Close()
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "synth":
		return runSynth(ctx, args[1:], stdout, stderr)
	case "inspect":
		return runInspect(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "layertheory: unknown command %q\n%s", args[0], usage)
		return 2
	}
}

func runSynth(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", "layers.yaml", "path to the layer manifest")
	outDir := fs.String("out", "cdk.out", "cloud assembly output directory")
	exports := fs.Bool("export", false, "export each layer ARN output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}
	log, closeLog, err := setupLogger(ctx, m, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}
	defer closeLog()

	ls, err := synth(m, *outDir, *exports, log)
	if err != nil {
		log.Error("synth failed", map[string]any{"error": err})
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "layertheory: synthesized %s with %d layer(s): %s\n",
		*ls.Stack.StackName(), len(ls.Layers), strings.Join(ls.LayerNames(), ", "))
	return 0
}

func synth(m *manifest.Manifest, outDir string, exports bool, log observability.StructuredLogger) (ls *stack.LayerStack, err error) {
	defer func() {
		if r := recover(); r != nil {
			ls = nil
			err = fmt.Errorf("synth: %v", r)
		}
	}()

	abs, err := filepath.Abs(outDir)
	if err != nil {
		return nil, err
	}
	app := awscdk.NewApp(&awscdk.AppProps{Outdir: jsii.String(abs)})
	ls, err = stack.NewLayerStack(app, m, stack.Options{Logger: log, ExportOutputs: exports})
	if err != nil {
		return nil, err
	}
	app.Synth(nil)
	log.Info("cloud assembly written", map[string]any{"out": abs})
	return ls, nil
}

func runInspect(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", "layers.yaml", "path to the layer manifest")
	layerName := fs.String("layer", "", "manifest layer name")
	arn := fs.String("arn", "", "deployed layer version ARN")
	timeout := fs.Duration("timeout", 30*time.Second, "AWS call timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*layerName) == "" || strings.TrimSpace(*arn) == "" {
		fmt.Fprintln(stderr, "layertheory: FAIL: -layer and -arn are required")
		return 2
	}

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}
	spec, ok := m.Layer(*layerName)
	if !ok {
		fmt.Fprintf(stderr, "layertheory: FAIL: layer %q not in %s\n", *layerName, *manifestPath)
		return 2
	}

	log, closeLog, err := setupLogger(ctx, m, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	inspector, err := newInspector(ctx, log)
	if err != nil {
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}
	report, err := inspector.Inspect(ctx, *arn, spec)
	if err != nil {
		if errors.Is(err, inspect.ErrLayerNotFound) {
			log.Warn("layer version not found", map[string]any{"arn": *arn})
		} else {
			log.Error("inspect failed", map[string]any{"error": err})
		}
		fmt.Fprintf(stderr, "layertheory: FAIL: %v\n", err)
		return 2
	}

	if !report.HasDrift() {
		fmt.Fprintf(stdout, "layertheory: %s matches layer %s\n", report.LayerVersionArn, spec.Name)
		return 0
	}
	printReport(stdout, spec.Name, report)
	return 1
}

func printReport(w io.Writer, name string, report inspect.Report) {
	fmt.Fprintf(w, "layertheory: %s drifted from layer %s\n", report.LayerVersionArn, name)
	for _, d := range report.Differences {
		fmt.Fprintf(w, "  ~ %s: want %q, got %q\n", d.Field, d.Want, d.Got)
	}
	for _, p := range report.MissingPermissions {
		fmt.Fprintf(w, "  - permission %s\n", describePermission(p.AccountID, p.OrganizationID))
	}
	for _, p := range report.UnexpectedPermissions {
		fmt.Fprintf(w, "  + permission %s\n", describePermission(p.AccountID, p.OrganizationID))
	}
}

func describePermission(account, org string) string {
	if org == "" {
		return "account=" + account
	}
	return fmt.Sprintf("account=%s organization=%s", account, org)
}

// setupLogger installs a run-scoped logger. The returned func flushes it,
// delivering any collected errors, and restores the previous logger.
func setupLogger(ctx context.Context, m *manifest.Manifest, stderr io.Writer) (observability.StructuredLogger, func(), error) {
	notifier, err := newNotifier(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error notifications: %w", err)
	}
	base, err := obszap.New(m.Log, obszap.WithNotifier(notifier))
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	log := base.WithRunID(ulid.Make().String())
	previous := logger.SetLogger(log)
	return log, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := log.Flush(flushCtx); err != nil {
			fmt.Fprintf(stderr, "layertheory: error notification failed: %v\n", err)
		}
		logger.SetLogger(previous)
	}, nil
}
