package main

import (
	"context"
	"fmt"
	"os"

	"github.com/amoylab/hostlink/pkg/version"
	"github.com/spf13/cobra"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hostlink",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hostlink version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "hostlink",
		Short: "Host/Client orchestration server",
		Long:  `hostlink pairs SDK hosts with dashboard clients over duplex sockets and drives their transactions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "hostlink.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
