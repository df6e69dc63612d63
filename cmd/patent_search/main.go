// Package main provides the entry point for the PatentScope Search API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "patent_search",
	Short: "PatentScope Search API Server",
	Long:  "PatentScope Search runs patent searches against the WIPO PatentScope portal, deduplicates and aggregates the results, and exposes them over a REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
