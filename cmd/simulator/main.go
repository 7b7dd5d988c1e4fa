package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eb "ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/logging"
	"ospf-simulation/internal/metrics"
	"ospf-simulation/internal/server"
	"ospf-simulation/internal/sim"
	"ospf-simulation/internal/transport"
)

var (
	scenarioPath string
	items        int
	window       int
	timeout      time.Duration
	loss         float64
	policyName   string
	listenAddr   string
	linger       bool
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run one routed transfer over the lossy link",
	Long: `simulator builds the scenario's routers and aggregator, waits for routes between
sender and receiver, transfers the requested number of items and prints the result.
With --listen the event stream is served on /ws and the run can be steered through
/routerAPI/suspend, /routerAPI/resume and /status.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := sim.DefaultScenario()
		if scenarioPath != "" {
			loaded, err := sim.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			sc = loaded
		}
		if cmd.Flags().Changed("log-level") {
			sc.Logging.Level = logLevel
		}
		logger, closeLog, err := logging.New(sc.Logging.Level, sc.Logging.File)
		if err != nil {
			return err
		}
		defer closeLog()

		bus := eb.NewEventBus(logger)
		runner := sim.NewRunner(sc, bus, metrics.NewCollector(), logger)
		params, err := runner.DefaultParams()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &params); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()
		return simulate(ctx, cmd, runner, bus, params, logger)
	},
}

func applyFlags(cmd *cobra.Command, p *sim.RunParams) error {
	flags := cmd.Flags()
	if flags.Changed("items") {
		p.Items = items
	}
	if flags.Changed("window") {
		p.Window = window
	}
	if flags.Changed("timeout") {
		p.Timeout = timeout
	}
	if flags.Changed("loss") {
		if loss < 0 || loss > 1 {
			return fmt.Errorf("loss %v outside [0, 1]", loss)
		}
		p.Loss = loss
	}
	if flags.Changed("policy") {
		policy, err := transport.ParsePolicy(policyName)
		if err != nil {
			return err
		}
		p.Policy = policy
	}
	return nil
}

func simulate(ctx context.Context, cmd *cobra.Command, runner *sim.Runner, bus *eb.EventBus, p sim.RunParams, logger *zap.Logger) error {
	if listenAddr == "" {
		run, err := runner.Run(ctx, p)
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	}

	// The server outlives the run only with --linger.
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	srv := server.New(bus, runner, logger)

	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error { return srv.ListenAndServe(gctx, listenAddr) })
	g.Go(func() error {
		run, err := runner.Run(gctx, p)
		if err != nil {
			return err
		}
		printRun(cmd, run)
		if linger {
			logger.Info("run finished, serving until interrupted", zap.String("addr", listenAddr))
			return nil
		}
		stopServer()
		return nil
	})
	return g.Wait()
}

func printRun(cmd *cobra.Command, run metrics.Run) {
	res := run.Result
	fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", run.RunID)
	fmt.Fprintf(cmd.OutOrStdout(), "policy=%s items=%d window=%d loss=%v\n", res.Policy, res.Items, res.Window, run.Loss)
	fmt.Fprintf(cmd.OutOrStdout(), "sent=%d timeouts=%d efficiency=%.4f elapsed=%s\n",
		res.Sent, res.Timeouts, res.Efficiency(), res.Elapsed)
	fmt.Fprintf(cmd.OutOrStdout(), "link submitted=%d delivered=%d lost=%d overflowed=%d\n",
		run.Link.Submitted, run.Link.Delivered, run.Link.Lost, run.Link.Overflowed)
}

func init() {
	rootCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "YAML or JSON scenario description (default: built-in relay scenario)")
	rootCmd.Flags().IntVarP(&items, "items", "n", 1000, "number of items to transfer")
	rootCmd.Flags().IntVarP(&window, "window", "w", 1, "sender window size")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Millisecond, "idle timeout before a window is resent")
	rootCmd.Flags().Float64VarP(&loss, "loss", "l", 0, "link loss probability")
	rootCmd.Flags().StringVarP(&policyName, "policy", "p", transport.SelectiveRepeat.Name(), "SelectiveRepeat or GoBackN")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "serve /ws, /status and /routerAPI on this address, e.g. :8080")
	rootCmd.Flags().BoolVar(&linger, "linger", false, "keep serving after the run finishes")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
