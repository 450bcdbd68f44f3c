package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/fleetlb/pkg/rpc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use: "fleetlbctl",
	Short: "fleetlbctl is the operator CLI for a fleetlb-node broker",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("broker", "127.0.0.1:7651", "broker's rpc-listen-addr to connect to")
	rootCmd.AddCommand(placeCmd)
	rootCmd.AddCommand(unloadCmd)
}

var placeCmd = &cobra.Command{
	Use: "place NAMESPACE BUNDLE_RANGE",
	Short: "Ask a broker to select a broker for a bundle",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd)
		if err != nil {
			return fmt.Errorf("dial broker: %w", err)
		}
		defer conn.Close()

		req, err := structpb.NewStruct(map[string]interface{}{
			"namespace": args[0],
			"bundle_range": args[1],
		})
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client := rpc.NewPlacementServiceClient(conn)
		resp, err := client.SelectBrokerForAssignment(ctx, req)
		if err != nil {
			return fmt.Errorf("select broker: %w", err)
		}

		fmt.Println(resp.GetFields()["broker"].GetStringValue())
		return nil
	},
}

var unloadCmd = &cobra.Command{
	Use: "unload BROKER NAMESPACE BUNDLE_RANGE",
	Short: "Ask a broker to unload a namespace bundle",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd)
		if err != nil {
			return fmt.Errorf("dial broker: %w", err)
		}
		defer conn.Close()

		req, err := structpb.NewStruct(map[string]interface{}{
			"broker": args[0],
			"namespace": args[1],
			"bundle_range": args[2],
		})
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client := rpc.NewAdminServiceClient(conn)
		if _, err := client.UnloadNamespaceBundle(ctx, req); err != nil {
			return fmt.Errorf("unload bundle: %w", err)
		}

		fmt.Printf("unloaded %s/%s from %s\n", args[1], args[2], args[0])
		return nil
	},
}

func dial(cmd *cobra.Command) (*grpc.ClientConn, error) {
	addr, _ := cmd.Flags().GetString("broker")
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
