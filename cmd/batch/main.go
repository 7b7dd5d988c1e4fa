package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	eb "ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/logging"
	"ospf-simulation/internal/metrics"
	"ospf-simulation/internal/mqtt"
	"ospf-simulation/internal/sim"
	"ospf-simulation/internal/utils"
)

var (
	scenarioPath string
	metricsPath  string
	mqttBroker   string
	logLevel     string
	logDir       string
	monitorEvery time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "batch",
	Short: "Sweep repeat policies, loss probabilities and window sizes",
	Long: `batch runs one simulation per grid point of the scenario's sweep section and
prints an efficiency table and an elapsed-time table per repeat policy.`,
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
		if cmd.Flags().Changed("metrics") {
			sc.Logging.MetricsFile = metricsPath
		}
		if cmd.Flags().Changed("mqtt-broker") {
			sc.MQTT.Broker = mqttBroker
		}
		if cmd.Flags().Changed("log-level") {
			sc.Logging.Level = logLevel
		}

		logFile := sc.Logging.File
		if logFile == "" {
			logFile = logging.DefaultFile(logDir, time.Now())
		}
		logger, closeLog, err := logging.New(sc.Logging.Level, logFile)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()
		return runBatch(ctx, cmd, sc, logger)
	},
}

func runBatch(ctx context.Context, cmd *cobra.Command, sc *sim.Scenario, logger *zap.Logger) error {
	logger.Info("starting sweep", zap.String("scenario", sc.Name))

	if monitorEvery > 0 {
		monCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go utils.MonitorResources(monCtx, monitorEvery, logger)
	}

	bus := eb.NewEventBus(logger)
	coll := metrics.NewCollector()
	runner := sim.NewRunner(sc, bus, coll, logger)

	var onRun func(string, metrics.Run)
	if sc.MQTT.Broker != "" {
		fwd, done, err := connectMQTT(ctx, sc, bus, runner, logger)
		if err != nil {
			return err
		}
		defer done()
		onRun = func(policy string, run metrics.Run) {
			if err := fwd.PublishRun(policy, run); err != nil {
				logger.Warn("publish run", zap.Error(err))
			}
		}
	}

	cfg, err := sc.SweepConfig()
	if err != nil {
		return err
	}
	tables, runErr := runner.Sweep(ctx, cfg, onRun)
	if runErr != nil {
		logger.Error("sweep stopped early", zap.Error(runErr))
	}
	if tables != nil {
		if err := tables.Write(cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	// always flush metrics before exit
	if err := coll.Flush(sc.Logging.MetricsFile); err != nil {
		logger.Error("flush metrics", zap.Error(err))
	} else {
		logger.Info("stats written", zap.String("file", sc.Logging.MetricsFile))
	}
	return runErr
}

// connectMQTT forwards the event stream to the broker and accepts control
// messages. The returned func stops forwarding and disconnects.
func connectMQTT(ctx context.Context, sc *sim.Scenario, bus *eb.EventBus, runner *sim.Runner, logger *zap.Logger) (*mqtt.Forwarder, func(), error) {
	format, err := mqtt.ParseFormat(sc.MQTT.Format)
	if err != nil {
		return nil, nil, err
	}
	manager, err := mqtt.New(sc.MQTT.Broker, "batch-"+uuid.NewString(), logger)
	if err != nil {
		return nil, nil, err
	}
	fwd := mqtt.NewForwarder(manager, sc.MQTT.Topic, format, logger)
	if err := manager.Subscribe(fwd.ControlTopic(), 1, mqtt.ProcessControlMessage(runner, logger)); err != nil {
		manager.Disconnect()
		return nil, nil, fmt.Errorf("subscribe %s: %w", fwd.ControlTopic(), err)
	}

	events := bus.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fwd.Forward(ctx, events)
	}()
	return fwd, func() {
		bus.Unsubscribe(events)
		wg.Wait()
		manager.Disconnect()
	}, nil
}

func init() {
	rootCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "YAML or JSON scenario description (default: built-in relay scenario)")
	rootCmd.Flags().StringVarP(&metricsPath, "metrics", "m", "", "counters JSON output (overrides the scenario)")
	rootCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "forward events and runs to this broker, e.g. tcp://localhost:1883")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory for the timestamped log file")
	rootCmd.Flags().DurationVar(&monitorEvery, "monitor", 0, "log goroutines and heap at this interval (0 disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
