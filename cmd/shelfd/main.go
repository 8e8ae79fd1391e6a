// Shelfd is a personal knowledge-base server: collections of text files
// with incremental vector sync and retrieval-augmented search, exposed
// over an MCP stdio tool channel and an HTTP/JSON API.
//
// Usage:
//
//	# Start the HTTP daemon
//	shelfd serve
//
//	# Serve MCP tools over stdio (for agent clients)
//	shelfd mcp
//
//	# Configure via file or environment
//	shelfd serve --config shelfd.yaml
//	SHELFD_SERVER_PORT=9090 shelfd serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shelfd",
	Short: "Personal knowledge-base server with vector search",
	Long: `shelfd stores collections of text files, keeps a vector index in sync
with their content, and answers semantic and RAG queries over them.
The same operations are exposed as MCP tools over stdio and as an
HTTP/JSON API.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shelfd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
