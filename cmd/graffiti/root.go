// Package graffiti implements the go-graffiti command line interface.
package graffiti

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graffiti",
	Short: "Multi-tenant knowledge-graph consistency layer",
	Long: `Graffiti manages typed entities and relationships in a graph store,
guarantees idempotent creation under concurrent writers, and reconciles
previously materialized graph fragments against newly extracted
knowledge.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
