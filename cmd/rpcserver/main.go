// Command rpcserver serves JSON-RPC 2.0 methods over HTTP, or over
// stdin/stdout as newline-delimited JSON.
//
//	rpcserver serve --config rpcserver.yaml
//	rpcserver serve --stdio < requests.ndjson
//	rpcserver version
//
// Settings come from the YAML file, a .env file in the working directory
// and JSONRPC_* environment variables; see internal/config.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rpcserver",
		Short:        "JSON-RPC 2.0 server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rpcserver %s (%s %s/%s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
