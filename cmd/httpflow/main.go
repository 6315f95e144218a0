// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command httpflow sends HTTP requests concurrently through an httpflow
// client.
//
// Usage:
//
//	httpflow fetch [flags] URL...
//
// Settings are read from the YAML file named by --config, overridden
// by HTTPFLOW_* environment variables, then by flags. See package
// github.com/gogama/httpflow/config for the file format.
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "httpflow",
		Short:        "Concurrent HTTP client",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newFetchCmd())
	return root
}
