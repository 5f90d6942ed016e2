package main

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:     "hatchcrawl",
	Short:   "A bounded-concurrency site-crawling link validator",
	Version: "1.0.0",
	Long: `hatchcrawl crawls a web site from one or more seed URLs, following references
found in HTML documents, and records the HTTP status and metadata of every resource
it finds. Run "hatchcrawl crawl URL" to start a crawl.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()
}

// Execute runs the root command and returns its error, if any, for main to
// translate into an exit code.
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// exitError carries a specific process exit code (0 clean, 1 erroneous
// pages found, 2 fatal configuration/startup error) through cobra's plain
// error-returning RunE contract.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}
