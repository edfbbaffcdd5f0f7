package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facepic",
	Short: "A face-aware photo catalogue and ingestion pipeline",
	Long: `Facepic walks a photo import tree, detects and embeds the faces it
finds using an InsightFace embedding server, clusters them into persons
and serves the resulting catalogue through a small read API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
