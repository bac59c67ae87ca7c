package cmd

import (
	"github.com/spf13/cobra"

	"songmill/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the songmill HTTP server",
	Long:  `Start the HTTP server exposing the ingestion API, progress websockets and the stream proxy.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
