package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"

    chancli "github.com/amirimatin/go-chanpool/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "chanctl:", err)
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "chanctl",
        Short:         "Cluster channel provider tooling",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    chancli.AddAll(root)
    return root
}
