package gate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/block/replgate/pkg/config"
	"github.com/block/replgate/pkg/dbconn"
	"github.com/block/replgate/pkg/metrics"
	"github.com/block/replgate/pkg/topology"
	"github.com/block/replgate/pkg/utils"
)

// WaitCmd is the Kong CLI struct for the wait command.
type WaitCmd struct {
	Thresholds     string        `name:"thresholds" help:"YAML file of per-target replication lag thresholds. It is reloaded when it changes." type:"existingfile" required:""`
	Topology       string        `name:"topology" help:"YAML file describing the storage layout" type:"existingfile" required:""`
	Credentials    string        `name:"credentials" help:"my.cnf style file with a [client] user and password for DSNs without one" optional:""`
	MonitorTimeout time.Duration `name:"monitor-timeout" help:"How long a single lag monitor waits before giving up" optional:"" default:"60s"`
	Repeat         int           `name:"repeat" help:"Number of times to wait for replication; 0 runs until interrupted" optional:"" default:"1"`
	Interval       time.Duration `name:"interval" help:"Pause between repeated waits" optional:"" default:"1s"`
	ReloadInterval time.Duration `name:"reload-interval" help:"How often the thresholds file is checked for changes" optional:"" default:"10s"`
	LogMetrics     bool          `name:"log-metrics" help:"Log gate metrics after every wait" optional:"" default:"false"`
	// TLS Configuration
	TLSMode            string `name:"tls-mode" help:"TLS connection mode (case insensitive): DISABLED, PREFERRED (default), REQUIRED, VERIFY_CA, VERIFY_IDENTITY" optional:"" default:"PREFERRED"`
	TLSCertificatePath string `name:"tls-ca" help:"Path to custom TLS CA certificate file" optional:""`

	logger *slog.Logger `kong:"-"`
}

// Run executes the wait command. It is called by Kong.
func (cmd *WaitCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return cmd.run(ctx)
}

func (cmd *WaitCmd) run(ctx context.Context) error {
	logger := cmd.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	thresholds, err := config.NewFile(cmd.Thresholds, logger)
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	thresholds.ReloadInterval = cmd.ReloadInterval

	storage, err := topology.LoadStorage(cmd.Topology)
	if err != nil {
		return err
	}
	var creds *topology.Credentials
	if cmd.Credentials != "" {
		if creds, err = topology.LoadCredentials(cmd.Credentials); err != nil {
			return err
		}
	}
	dbConfig := dbconn.NewDBConfig()
	dbConfig.TLSMode = cmd.TLSMode
	dbConfig.TLSCertificatePath = cmd.TLSCertificatePath

	monitors, conns, err := topology.NewFactory(dbConfig, creds, cmd.MonitorTimeout).NewMonitors(storage)
	if err != nil {
		return fmt.Errorf("failed to create lag monitors: %w", err)
	}
	defer utils.CloseAndLog(conns)

	g, err := New(thresholds, monitors, logger)
	if err != nil {
		return err
	}
	if cmd.LogMetrics {
		g.SetMetricsSink(metrics.NewLogSink(logger))
	}

	reloadCtx, cancelReload := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		thresholds.Run(reloadCtx)
	}()
	defer func() {
		cancelReload()
		wg.Wait()
	}()

	for i := 0; cmd.Repeat == 0 || i < cmd.Repeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cmd.Interval):
			}
		}
		start := time.Now()
		if err := g.WaitForReplication(ctx); err != nil {
			logger.Error("replication freshness could not be confirmed", "error", err)
			return err
		}
		logger.Info("replication caught up", "targets", g.Targets(), "duration", time.Since(start))
	}
	return nil
}
