package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/parcelwatch/parcelwatch/internal/logger"
	"github.com/parcelwatch/parcelwatch/internal/remote/flypack"
)

func init() {
	var portalURL string

	portalCmd := &cobra.Command{Use: "portal", Short: "Portal connectivity checks"}
	portalCmd.PersistentFlags().StringVar(&portalURL, "url", "https://www.flypack.one", "Portal base URL")

	loginCmd := &cobra.Command{
		Use:   "login USERNAME PASSWORD",
		Short: "Verify portal credentials and print the current packages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			client := flypack.New(portalURL, logger.New("parcelctl"))
			path, err := client.Authenticate(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			pkgs, err := client.FetchPackages(ctx, path, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTIFIER\tTRACKING\tDESCRIPTION\tWEIGHT\tSTATUS")
			for _, p := range pkgs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s %s\n",
					p.Identifier, p.Tracking, p.Description, p.Weight,
					p.Status.Description, p.Status.Percentage)
			}
			return w.Flush()
		},
	}
	portalCmd.AddCommand(loginCmd)

	rootCmd.AddCommand(portalCmd)
}
