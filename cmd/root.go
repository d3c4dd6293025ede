package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMDS/cmd/serve"
	"github.com/ValentinKolb/dMDS/cmd/sessions"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmds",
		Short: "distributed metadata service session maps",
		Long: fmt.Sprintf(`dMDS (v%s)

Keeps the client session map of a metadata node and persists it as one
versioned object in an object store (filesystem, S3, GCS, Redis or a
raft replicated store).`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMDS",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMDS v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(sessions.SessionCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
