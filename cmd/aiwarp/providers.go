package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Simon-Lind-glitch/ai-warp/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and default models",
	RunE: func(cmd *cobra.Command, args []string) error {
		router, _, err := loadRouter()
		if err != nil {
			return err
		}
		defer router.Close(context.Background())

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Providers:")
		for _, name := range router.Providers() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		fmt.Fprintln(out, "Default models:")
		for i, c := range router.Candidates() {
			fmt.Fprintf(out, "  %d. %s\n", i+1, c)
		}
		fmt.Fprintln(out, "Known provider types:")
		for _, kind := range providers.Kinds() {
			fmt.Fprintf(out, "  %s\n", kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
