package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	usersCmd := &cobra.Command{Use: "users", Short: "Registered account operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts with their delegated chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			users, err := st.Users().List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTIFIER\tACCOUNT\tNAME\tLANG\tAUTHORIZED\tUNAUTHORIZED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
					u.Identifier, u.Username, u.FirstName, u.LanguageCode,
					len(u.AuthorizedUsers), len(u.UnauthorizedUsers))
			}
			return w.Flush()
		},
	}
	usersCmd.AddCommand(listCmd)

	removeCmd := &cobra.Command{
		Use:   "remove IDENTIFIER",
		Short: "Remove an account and its packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid identifier: %s", args[0])
			}

			ctx := context.Background()
			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			u, err := st.Users().GetByIdentifier(ctx, id)
			if err != nil {
				return err
			}
			if err := st.Packages().DeleteByUsername(ctx, u.Username); err != nil {
				return err
			}
			if err := st.Users().Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "removed %s (%d)\n", u.Username, id)
			return nil
		},
	}
	usersCmd.AddCommand(removeCmd)

	rootCmd.AddCommand(usersCmd)
}
