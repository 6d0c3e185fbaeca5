package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cmdUtil "github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an in-memory dGrid member",
		Long:    `Start an in-memory dGrid member with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DGRID_<flag> (e.g. DGRID_PARTITION_COUNT=271)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the member will listen (e.g. localhost:5701, /tmp/dgrid.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Timeout in seconds for the handshake of a new connection, 0 disables it"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, defaults.WorkersPerConn, cmdUtil.WrapString("How many requests of one connection are handled concurrently"))

	key = "partition-count"
	ServeCmd.PersistentFlags().Int32(key, defaults.PartitionCount, cmdUtil.WrapString("The number of partitions keys are hashed into, clients must use the same value"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("If set, Prometheus metrics are served on http://<metrics-endpoint>/metrics"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupServerFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.PartitionCount = viper.GetInt32("partition-count")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	cmdUtil.ApplyServerSocketConfig(&serveCmdConfig)

	if serveCmdConfig.PartitionCount <= 0 {
		return fmt.Errorf("partition-count must be positive, got %d", serveCmdConfig.PartitionCount)
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the member and blocks until it is interrupted
func run(cmd *cobra.Command, _ []string) error {
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	member := server.NewMember(serveCmdConfig, t)

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = startMetrics(serveCmdConfig.MetricsEndpoint)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- member.Serve()
	}()

	select {
	case err = <-errCh:
	case <-cmd.Context().Done():
		err = member.Shutdown()
		<-errCh
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, metricsServer.Shutdown(ctx))
	}
	return err
}

// startMetrics serves the telemetry counters in Prometheus format
func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		telemetry.WritePrometheus(w)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("metrics endpoint stopped: %v", err)
		}
	}()
	return srv
}
