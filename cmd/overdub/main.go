package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "overdub",
	Short: "Timeline-synchronized dubbing playback and export",
	Long: `Overdub plays a video's timeline with synthesized narration segments
mixed over it, streams the live narration to listeners, and can export a
complete dubbed pass as a single media file.`,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
