// GitScribe
//
// Turns repository activity into development-log articles.
// Point it at a repo, get a post.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "gitscribe",
	Short: "GitScribe - repository activity to articles",
	Long: `GitScribe ingests recent commits and pull requests from a GitHub
repository and turns them into development-log articles.

  gitscribe serve                        Start the server
  gitscribe generate --repo owner/repo   Generate a post from recent activity
  gitscribe posts                        List generated posts`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("GITSCRIBE_SERVER", "http://localhost:7090"), "GitScribe server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
