// Package cli implements the complyledger command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/complyledger/complyledger/internal/config"
	"github.com/complyledger/complyledger/internal/observability"
	"github.com/complyledger/complyledger/internal/observability/logging"
	otelobs "github.com/complyledger/complyledger/internal/observability/otel"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/complyledger/complyledger/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "complyledger",
	Short: "Compliance policy evaluation with a tamper-evident audit log",
	Long: `complyledger evaluates compliance policy packages against a context
document, records every verdict in an append-only Merkle audit log and
signs log roots so auditors can check the history was not rewritten.`,
	Version:           version.String(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	configFlag       string
	logFormatFlag    string
	logLevelFlag     string
	logOutputFlag    string
	otelFlag         bool
	otelEndpointFlag string
	otelProtocolFlag string
	otelInsecureFlag bool
	receiptFlag      string
	receiptModeFlag  string
	auditStoreFlag   string
	auditDSNFlag     string
)

// cfg is the effective configuration once setup has run.
var cfg = config.Default()

// resources opened by setup and released by cleanup
var active struct {
	logger   logging.Logger
	otel     *otelobs.Handle
	receipts receipt.Writer
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (default: ./"+config.DefaultPath+" when present)")
	pf.StringVar(&logFormatFlag, "log-format", "", "Log format: pretty, text or jsonl")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&logOutputFlag, "log-output", "", "Log destination: stderr or a file path")
	pf.BoolVar(&otelFlag, "otel", false, "Enable OpenTelemetry tracing")
	pf.StringVar(&otelEndpointFlag, "otel-endpoint", "", "OTLP endpoint")
	pf.StringVar(&otelProtocolFlag, "otel-protocol", "", "OTLP protocol: otlphttp or otlpgrpc")
	pf.BoolVar(&otelInsecureFlag, "otel-insecure", false, "Disable TLS for the OTLP exporter")
	pf.StringVar(&receiptFlag, "receipt", "", "Write an evidence receipt to this path")
	pf.StringVar(&receiptModeFlag, "receipt-mode", "", "Receipt mode: overwrite or append")
	pf.StringVar(&auditStoreFlag, "audit-store", "", "Audit leaf store: memory, sqlite or postgres")
	pf.StringVar(&auditDSNFlag, "audit-dsn", "", "Audit store path or connection string")

	rootCmd.AddCommand(GetEvaluateCmd())
	rootCmd.AddCommand(GetPolicyCmd())
	rootCmd.AddCommand(GetAuditCmd())
	rootCmd.AddCommand(GetKeygenCmd())
	rootCmd.AddCommand(GetAttestCmd())
	rootCmd.AddCommand(GetVerdictCmd())
	rootCmd.AddCommand(GetBundleCmd())
}

// GetRootCmd returns the root command
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and threads the logger, tracer and receipt
// writer through the command context.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	applyFlags(cmd, c)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c

	// the root context is fresh per Execute; subcommands keep a stale one
	ctx := cmd.Root().Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithOpID(ctx)

	logger, err := logging.NewLogger(c.Logging())
	if err != nil {
		return fmt.Errorf("failed to open log output: %w", err)
	}
	active.logger = logger
	ctx = logging.WithLogger(ctx, logger)

	if c.OTel.Enabled {
		h, err := otelobs.Init(ctx, c.Tracing())
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		active.otel = h
		ctx = otelobs.WithHandle(ctx, h)
	}

	if c.Receipt.Path != "" {
		w, err := receipt.NewWriter(c.Receipt.Path, c.Receipt.Mode)
		if err != nil {
			return fmt.Errorf("failed to open receipt: %w", err)
		}
		active.receipts = w
		ctx = receipt.WithWriter(ctx, w)
	}

	cmd.SetContext(ctx)
	return nil
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	set := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	set("log-format", &c.Log.Format, logFormatFlag)
	set("log-level", &c.Log.Level, logLevelFlag)
	set("log-output", &c.Log.Output, logOutputFlag)
	set("otel-endpoint", &c.OTel.Endpoint, otelEndpointFlag)
	set("otel-protocol", &c.OTel.Protocol, otelProtocolFlag)
	set("receipt", &c.Receipt.Path, receiptFlag)
	set("receipt-mode", &c.Receipt.Mode, receiptModeFlag)
	set("audit-store", &c.Audit.Store, auditStoreFlag)
	set("audit-dsn", &c.Audit.DSN, auditDSNFlag)
	if flags.Changed("otel") {
		c.OTel.Enabled = otelFlag
	}
	if flags.Changed("otel-insecure") {
		c.OTel.Insecure = otelInsecureFlag
	}
}

// cleanup releases what setup opened. It runs whether or not the command
// succeeded so failed runs still flush spans.
func cleanup() {
	if active.receipts != nil {
		_ = active.receipts.Close()
		active.receipts = nil
	}
	if active.otel != nil && active.otel.Shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = active.otel.Shutdown(ctx)
		cancel()
		active.otel = nil
	}
	if active.logger != nil {
		_ = active.logger.Close()
		active.logger = nil
	}
}
