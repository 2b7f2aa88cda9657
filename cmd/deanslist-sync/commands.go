package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/internal/pipeline"
	"github.com/ajitpratap0/deanslist-sync/pkg/config"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
	"github.com/ajitpratap0/deanslist-sync/pkg/observability"
)

var version = "1.0.0"

type globalFlags struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "deanslist-sync",
		Short: "Sync DeansList school data into the warehouse",
		Long: `deanslist-sync copies incidents, communications and behavior records of
every school in the roster from DeansList into warehouse tables, replacing
each school's rows on every run.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Path to a .env file to export before loading configuration")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newRunCmd(g, v),
		newEntitiesCmd(),
		newTenantsCmd(g, v),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(g *globalFlags, v *viper.Viper) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sync",
		Long: `Run a full sync of every active tenant, or a backfill of the windowed
entities when --start and --end are given.

Examples:
  deanslist-sync run --config sync.yaml
  deanslist-sync run --config sync.yaml --tenants Bayview,Eastlake
  deanslist-sync run --config sync.yaml --start 2019-12-01 --end 2019-12-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, v)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg, timeout)
		},
	}

	f := cmd.Flags()
	f.StringSlice("tenants", nil, "Only sync these tenants (comma separated names)")
	f.String("start", "", "Backfill window start (YYYY-MM-DD)")
	f.String("end", "", "Backfill window end (YYYY-MM-DD)")
	f.Int("workers", 0, "Number of tenants synced concurrently")
	f.Bool("transactional", false, "Wrap each entity's delete and insert in one transaction")
	f.DurationVar(&timeout, "timeout", 2*time.Hour, "Abort the run after this long")
	cmd.MarkFlagsRequiredTogether("start", "end")

	_ = v.BindPFlag("run.tenants", f.Lookup("tenants"))
	_ = v.BindPFlag("run.start", f.Lookup("start"))
	_ = v.BindPFlag("run.end", f.Lookup("end"))
	_ = v.BindPFlag("run.workers", f.Lookup("workers"))
	_ = v.BindPFlag("warehouse.transactional", f.Lookup("transactional"))
	return cmd
}

func newEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List synced entities in run order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printEntities(cmd.OutOrStdout(), entity.DefaultCatalog())
		},
	}
}

func newTenantsCmd(g *globalFlags, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List the tenant roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, v)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runner, err := pipeline.NewFromConfig(cmd.Context(), cfg, logger.Get())
			if err != nil {
				return err
			}
			defer runner.Close()

			roster, err := runner.Roster(cmd.Context())
			if err != nil {
				return err
			}
			return printTenants(cmd.OutOrStdout(), roster)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deanslist-sync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func loadConfig(g *globalFlags, v *viper.Viper) (*config.Config, error) {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSync(parent context.Context, cfg *config.Config, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "deanslist-sync-cli"))

	shutdown, err := observability.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	window, err := cfg.Run.Window()
	if err != nil {
		return err
	}

	runner, err := pipeline.NewFromConfig(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start sync", zap.Error(err))
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("failed to close connections", zap.Error(err))
		}
	}()

	_, err = runner.Execute(ctx, pipeline.Request{Tenants: cfg.Run.Tenants, Window: window})
	return err
}

func printEntities(w io.Writer, catalog *entity.Catalog) error {
	schedule, err := catalog.Schedule()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tKIND\tSOURCE\tCOLUMNS")
	for _, def := range schedule {
		src := string(def.APIVersion) + ":" + def.Endpoint
		if def.IsNested() {
			src = def.Parent + "." + def.NestedField
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", def.Name, def.Kind(), src, len(def.StoredColumns()))
	}
	return tw.Flush()
}

func printTenants(w io.Writer, roster []entity.Tenant) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tACTIVE")
	for _, t := range roster {
		fmt.Fprintf(tw, "%s\t%t\n", t.Name, t.Active)
	}
	return tw.Flush()
}
