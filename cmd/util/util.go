package util

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/tcp"
	"github.com/ValentinKolb/dGrid/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables, e.g. DGRID_TIMEOUT
	EnvPrefix = "dgrid"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the client connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "timeout"
	cmd.PersistentFlags().Int(key, defaults.TimeoutSecond, WrapString("The timeout in seconds of one invocation including its retries"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, strings.Join(defaults.Endpoints, ","), WrapString("The addresses of the members. Multiple endpoints can be specified as a comma-separated list"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, defaults.ConnectionsPerEndpoint, WrapString("Simultaneous connections per endpoint"))

	key = "retries"
	cmd.PersistentFlags().Int(key, defaults.RetryCount, WrapString("How many times to retry a retryable request"))

	key = "backoff"
	cmd.PersistentFlags().Int(key, defaults.InvocationBackoffMs, WrapString("The pause before the first retry in milliseconds, doubled for every further retry"))

	key = "partitions"
	cmd.PersistentFlags().Int32(key, defaults.PartitionCount, WrapString("The partition count of the grid, must match the members"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	setupSocketFlags(cmd)
}

// SetupServerFlags adds the socket and framing flags to the serve command
func SetupServerFlags(cmd *cobra.Command) {
	setupSocketFlags(cmd)
}

func setupSocketFlags(cmd *cobra.Command) {
	key := "write-buffer"
	cmd.PersistentFlags().Int(key, 64, WrapString("The size of the write buffer of a connection (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 64, WrapString("The size of the read buffer of a connection (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, -1 keeps the os default)"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, 16<<10, WrapString("The largest accepted frame (in KB), larger frames are dropped"))

	key = "fragment-threshold"
	cmd.PersistentFlags().Int(key, 1<<10, WrapString("Messages above this size are sent in fragments (in KB, 0 disables fragmentation)"))
}

// InitConfig loads the .env files and sets up the environment binding
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:              strings.Split(viper.GetString("endpoints"), ","),
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
		PartitionCount:         viper.GetInt32("partitions"),
		InvocationBackoffMs:    viper.GetInt("backoff"),
		Socket:                 getSocketConf(),
		TCP:                    getTCPConf(),
		Frame:                  getFrameConf(),
	}
}

// ApplyServerSocketConfig copies the socket and framing flags into config
func ApplyServerSocketConfig(config *common.ServerConfig) {
	config.Socket = getSocketConf()
	config.TCP = getTCPConf()
	config.Frame = getFrameConf()
}

func getSocketConf() common.SocketConf {
	return common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
}

func getTCPConf() common.TCPConf {
	return common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}
}

func getFrameConf() common.FrameConf {
	return common.FrameConf{
		MaxFrameSize:      viper.GetInt("max-frame-size") * 1024,
		FragmentThreshold: viper.GetInt("fragment-threshold") * 1024,
	}
}

// GetSerializer creates the serializer for raw message output, nil if raw
// output is disabled
func GetSerializer() (serializer.IMessageSerializer, error) {
	switch viper.GetString("serializer") {
	case "", "none":
		return nil, nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// PrintMessage prints msg with s, binary output is hex encoded
func PrintMessage(s serializer.IMessageSerializer, msg *protocol.Message) error {
	if s == nil {
		return nil
	}
	data, err := s.Serialize(msg)
	if err != nil {
		return err
	}
	if viper.GetString("serializer") == "binary" {
		fmt.Println(hex.EncodeToString(data))
		return nil
	}
	fmt.Println(string(data))
	return nil
}

// GetClientConnector creates the client connector based on configuration
func GetClientConnector() (transport.IClientConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewClientConnector(), nil
	case "unix":
		return unix.NewClientConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the member transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Benchmark Output
// --------------------------------------------------------------------------

// PrintResult prints the result of a benchmark test in a formatted way
func PrintResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 || result.NsPerOp() == 0 {
		fmt.Printf("%-24sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-24s%.0fns/op (%s/op)\t%.0f ops/sec\t%d allocs/op\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, result.AllocsPerOp())
}

// WriteResultsToCSV writes benchmark results to a CSV file. The extra
// columns describe the run and are repeated on every row.
func WriteResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, extra map[string]string) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	extraKeys := make([]string, 0, len(extra))
	for k := range extra {
		extraKeys = append(extraKeys, k)
	}
	slices.Sort(extraKeys)

	// Write header
	header := append([]string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "AllocsPerOp", "Skipped"}, extraKeys...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.N > 0 && result.NsPerOp() > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatInt(result.AllocsPerOp(), 10),
			skipped,
		}
		for _, k := range extraKeys {
			row = append(row, extra[k])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return nil
}

