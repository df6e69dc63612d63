package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lgomes/patentscope-api/internal/artifacts"
	"github.com/lgomes/patentscope-api/internal/config"
	"github.com/lgomes/patentscope-api/internal/patents"
	"github.com/lgomes/patentscope-api/internal/pipeline"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a patent search once and print the result as JSON",
	Long:  `Run a single patent search synchronously, without starting the server, and print the aggregated result to stdout. Progress messages go to stderr.`,
	RunE:  runSearch,
}

var (
	searchTerm       string
	searchLimit      int
	searchCountries  []string
	searchDetails    bool
	searchMaxDetails int
	searchUseLogin   bool
)

func init() {
	searchCmd.Flags().StringVarP(&searchTerm, "term", "t", "", "Search term (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "Maximum number of raw hits to collect")
	searchCmd.Flags().StringSliceVarP(&searchCountries, "countries", "c", nil, "Country codes to search, in order (defaults to the standard set)")
	searchCmd.Flags().BoolVar(&searchDetails, "details", false, "Fetch the detail page for each unique patent")
	searchCmd.Flags().IntVar(&searchMaxDetails, "max-details", 0, "Cap on detail fetches (0 means all unique patents)")
	searchCmd.Flags().BoolVar(&searchUseLogin, "use-login", false, "Authenticate with WIPO_USERNAME/WIPO_PASSWORD before searching")

	_ = searchCmd.MarkFlagRequired("term")
	rootCmd.AddCommand(searchCmd)
}

// cliRecorder adapts the task lifecycle to a synchronous CLI run:
// progress goes to stderr and the terminal state is captured for the
// caller to inspect.
type cliRecorder struct {
	result *patents.SearchResult
	errMsg string
}

func (c *cliRecorder) Start(string) {}

func (c *cliRecorder) UpdateProgress(_ string, text string) {
	fmt.Fprintln(os.Stderr, text)
}

func (c *cliRecorder) Complete(_ string, result *patents.SearchResult) {
	c.result = result
}

func (c *cliRecorder) Fail(_ string, message string) {
	c.errMsg = message
}

func runSearch(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	spec := patents.SearchSpec{
		Term:       searchTerm,
		Limit:      searchLimit,
		Countries:  searchCountries,
		UseLogin:   searchUseLogin,
		GetDetails: searchDetails,
		MaxDetails: searchMaxDetails,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	log := newLogger()

	var sink pipeline.ResultSink
	if cfg.ResultsDir != "" {
		sink = artifacts.NewWriter(cfg.ResultsDir, log)
	}

	runner := pipeline.NewRunner(pipeline.Options{
		NewSource: newSourceFactory(cfg.Source, log),
		Sink:      sink,
		Logger:    log,
	})

	rec := &cliRecorder{}
	runner.Run(context.Background(), rec, uuid.New().String(), spec.Normalized())
	if rec.errMsg != "" {
		return errors.New(rec.errMsg)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec.result)
}
