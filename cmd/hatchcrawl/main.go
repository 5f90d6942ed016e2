// Command hatchcrawl is the CLI front end over the hatchcrawl engine: a
// spf13/cobra root command plus a crawl subcommand, mapping flags to
// config.Options and handing the finalized Site Model to a minimal
// text/JSON reporter. Report formatting beyond that remains an external
// collaborator's concern.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
