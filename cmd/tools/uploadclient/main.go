// Command uploadclient streams a local recording to the upload server the
// same way the browser recorder does, one binary frame per chunk.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env 可选
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "uploadclient",
		Short: "Stream recordings to the upload server",
		Long: `uploadclient replays a recorded file over the websocket upload
protocol: binary chunks followed by the TRANSFER_COMPLETE marker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		sendCmd(),
		listCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func defaultServer() string {
	if v := os.Getenv("UPLOAD_SERVER_URL"); v != "" {
		return v
	}
	return "ws://localhost:8000"
}
