package maps

import (
	"context"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	gridClient   *client.Client
	clientConfig *common.ClientConfig
	rawOutput    serializer.IMessageSerializer

	// MapCommands represents the map command group
	MapCommands = &cobra.Command{
		Use:                "map",
		Short:              "Perform distributed map operations",
		PersistentPreRunE:  setupMapClient,
		PersistentPostRunE: shutdownMapClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common client flags to the map command
	util.SetupClientFlags(MapCommands)

	// Add subcommands
	MapCommands.AddCommand(putCmd)
	MapCommands.AddCommand(getCmd)
	MapCommands.AddCommand(removeCmd)
	MapCommands.AddCommand(listenCmd)
	MapCommands.AddCommand(perfTestCmd)
}

// setupMapClient connects the client to the configured members
func setupMapClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	clientConfig = util.GetClientConfig()

	var err error
	rawOutput, err = util.GetSerializer()
	if err != nil {
		return err
	}

	connector, err := util.GetClientConnector()
	if err != nil {
		return err
	}

	gridClient = client.New(*clientConfig, connector)

	ctx, cancel := context.WithTimeout(cmd.Context(), clientConfig.Timeout())
	defer cancel()
	return gridClient.Connect(ctx)
}

func shutdownMapClient(cmd *cobra.Command, _ []string) error {
	if gridClient == nil {
		return nil
	}
	return gridClient.Shutdown(cmd.Context())
}
