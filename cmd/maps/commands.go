package maps

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/protocol"
	libUtil "github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [name] [key] [value]",
		Short: "Store a value in a map",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			key := []byte(args[1])
			req := codec.EncodeMapPutRequest(partition(key), args[0], key, []byte(args[2]), ttl.Milliseconds())

			resp, err := invoke(cmd, req)
			if err != nil {
				return err
			}
			old, err := codec.DecodeMapPutResponse(resp)
			if err != nil {
				return err
			}
			printValue("previous", old)
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [name] [key]",
		Short: "Read a value from a map",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(args[1])
			resp, err := invoke(cmd, codec.EncodeMapGetRequest(partition(key), args[0], key))
			if err != nil {
				return err
			}
			value, err := codec.DecodeMapGetResponse(resp)
			if err != nil {
				return err
			}
			printValue("value", value)
			return nil
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove [name] [key]",
		Short: "Remove a key from a map",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(args[1])
			resp, err := invoke(cmd, codec.EncodeMapRemoveRequest(partition(key), args[0], key))
			if err != nil {
				return err
			}
			old, err := codec.DecodeMapRemoveResponse(resp)
			if err != nil {
				return err
			}
			printValue("removed", old)
			return nil
		},
	}

	listenCmd = &cobra.Command{
		Use:   "listen [name]",
		Short: "Print the entry events of a map until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			includeValue, _ := cmd.Flags().GetBool("values")

			m, err := gridClient.GetMap(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			id, err := m.AddEntryListener(cmd.Context(), client.EntryListenerFunc(printEvent), includeValue)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "listening on %s (registration %s), press ctrl+c to stop\n", m.Name(), id)

			<-cmd.Context().Done()
			return nil
		},
	}
)

func init() {
	putCmd.Flags().Duration("ttl", 0, util.WrapString("How long the entry lives (e.g. 30s), 0 never expires"))
	listenCmd.Flags().Bool("values", true, util.WrapString("Whether events carry the entry values"))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// invoke sends req and prints the raw response if an output serializer is set
func invoke(cmd *cobra.Command, req *protocol.Message) (*protocol.Message, error) {
	resp, err := gridClient.Invoke(cmd.Context(), req)
	if err != nil {
		return nil, err
	}
	if err := util.PrintMessage(rawOutput, resp); err != nil {
		return nil, fmt.Errorf("failed to print response: %w", err)
	}
	return resp, nil
}

func partition(key []byte) int32 {
	return libUtil.PartitionID(string(key), clientConfig.PartitionCount)
}

func printValue(label string, value []byte) {
	if value == nil {
		fmt.Printf("%s: <nil>\n", label)
		return
	}
	fmt.Printf("%s: %s\n", label, strconv.Quote(string(value)))
}

func printEvent(ev codec.EntryEvent) error {
	fmt.Printf("%s %-8s key=%s", time.Now().Format(time.TimeOnly), ev.Type, strconv.Quote(string(ev.Key)))
	if ev.Value != nil {
		fmt.Printf(" value=%s", strconv.Quote(string(ev.Value)))
	}
	if ev.OldValue != nil {
		fmt.Printf(" old=%s", strconv.Quote(string(ev.OldValue)))
	}
	fmt.Println()
	return nil
}
