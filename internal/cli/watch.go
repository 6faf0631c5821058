package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

func newWatchCommand(opts *RootOptions, open Opener) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:       "watch <collection>",
		Short:     "Print every snapshot of a collection as it changes",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(store.Products), string(store.Sales), string(store.Customers), string(store.Settings)},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := store.Collection(args[0])
			if !c.Valid() {
				return fmt.Errorf("unknown collection %q", args[0])
			}
			return withSession(cmd, opts, open, func(ctx context.Context, s *Session) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				snaps := make(chan store.Snapshot, 1)
				sub, err := s.Store.Subscribe(ctx, c, func(snap store.Snapshot) {
					select {
					case snaps <- snap:
					case <-ctx.Done():
					}
				})
				if err != nil {
					return err
				}
				defer func() {
					cancel()
					_ = sub.Close()
				}()

				w := cmd.OutOrStdout()
				for seen := 0; count <= 0 || seen < count; seen++ {
					select {
					case <-ctx.Done():
						return nil
					case snap := <-snaps:
						printSnapshot(w, opts, snap)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many snapshots (0 = until interrupted)")
	return cmd
}

func printSnapshot(w io.Writer, opts *RootOptions, snap store.Snapshot) {
	if opts.Format == "json" {
		fmt.Fprintf(w, `{"collection":%q,"seq":%d,"docs":%d}`+"\n", snap.Collection, snap.Seq, len(snap.Docs))
		return
	}
	fmt.Fprintf(w, "%s #%d: %d documents\n", snap.Collection, snap.Seq, len(snap.Docs))
	for _, d := range snap.Docs {
		fmt.Fprintf(w, "  %s v%d %s\n", d.ID, d.Version, d.Data)
	}
}
