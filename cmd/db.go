package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/linkedin-inbox/internal/observability"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// debugStore is what the db commands read and clear.
type debugStore interface {
	AllConversations(ctx context.Context) ([]store.Conversation, error)
	AllMessages(ctx context.Context, conversationID int64) ([]store.Message, error)
	Users(ctx context.Context) ([]store.User, error)
	Clear(ctx context.Context) error
}

// withStore runs fn against a freshly opened store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st debugStore) error) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg, observability.GetLogger())
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, st)
}

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or reset stored conversations",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "list-conversations",
		Short: "List every stored conversation, including orphans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st debugStore) error {
				convs, err := st.AllConversations(ctx)
				if err != nil {
					return err
				}
				return printConversations(cmd.OutOrStdout(), convs)
			})
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "list-messages <conversation-id>",
		Short: "List the messages of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			return withStore(cmd, func(ctx context.Context, st debugStore) error {
				msgs, err := st.AllMessages(ctx, id)
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), msgs)
			})
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "list-users",
		Short: "List application users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st debugStore) error {
				users, err := st.Users(ctx)
				if err != nil {
					return err
				}
				return printUsers(cmd.OutOrStdout(), users)
			})
		},
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation and message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("refusing to clear the database without --yes")
			}
			return withStore(cmd, func(ctx context.Context, st debugStore) error {
				if err := st.Clear(ctx); err != nil {
					return err
				}
				cmd.Println("All conversations and messages deleted.")
				return nil
			})
		},
	}
	clearCmd.Flags().Bool("yes", false, "confirm the deletion")
	dbCmd.AddCommand(clearCmd)
	return dbCmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func printConversations(w io.Writer, convs []store.Conversation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTACT\tACCOUNT\tLAST UPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.ContactName, deref(c.AccountID), c.LastUpdated.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "\n%d conversation(s)\n", len(convs))
	return tw.Flush()
}

func printMessages(w io.Writer, msgs []store.Message) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSENDER\tRECEIVER\tMESSAGE")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.Time, m.Sender, m.Receiver, truncate(m.Body, 80))
	}
	fmt.Fprintf(tw, "\n%d message(s)\n", len(msgs))
	return tw.Flush()
}

func printUsers(w io.Writer, users []store.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tDISPLAY NAME\tPROFILE\tACTIVE")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", u.ID, u.Username, deref(u.DisplayName), deref(u.LinkedInProfileURL), u.IsActive)
	}
	fmt.Fprintf(tw, "\n%d user(s)\n", len(users))
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
