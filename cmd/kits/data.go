package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/archive"
	"uniquekits.dev/internal/persistence/indexdb"
	"uniquekits.dev/internal/persistence/snapshot"
)

func newImportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "import", Short: "Import kits from other plugins"}

	var path string
	ess := &cobra.Command{
		Use:   "essentials",
		Short: "Import kits from an EssentialsX kits.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			rep, err := a.ImportEssentials(ctx, path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rep == nil {
				fmt.Fprintln(out, "no essentials kits file found")
				return nil
			}
			fmt.Fprintf(out, "found %d, imported %d, skipped %d, failed %d\n",
				rep.Found, len(rep.Imported), len(rep.Skipped), len(rep.Failed))
			ids := make([]string, 0, len(rep.Notes))
			for id := range rep.Notes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				for _, n := range rep.Notes[id] {
					fmt.Fprintf(out, "  %s: %s\n", id, n)
				}
			}
			for id, err := range rep.Failed {
				fmt.Fprintf(out, "  %s: failed: %v\n", id, err)
			}
			return nil
		},
	}
	ess.Flags().StringVar(&path, "path", "", "Essentials kits.yml (default from config)")
	cmd.AddCommand(ess)
	return cmd
}

func newSnapshotCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Back up and restore kits and records"}

	var (
		archived bool
		keep     int
	)
	export := &cobra.Command{
		Use:   "export <file>",
		Short: "Write kits and all user records to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			if err := a.Records.FlushAll(ctx); err != nil {
				return err
			}
			recs, err := a.Records.All(ctx)
			if err != nil {
				return err
			}
			snap, err := snapshot.Build(a.Kits.ListAll(), recs, time.Now())
			if err != nil {
				return err
			}
			if err := snapshot.WriteSnapshot(args[0], snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d kits and %d records to %s\n", snap.Header.Kits, snap.Header.Records, args[0])
			if !archived {
				return nil
			}
			dst, err := archive.Store(a.Config.DataDir, args[0], snap.Header, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived to %s\n", dst)
			return nil
		},
	}
	export.Flags().BoolVar(&archived, "archive", false, "also keep a dated copy under the data directory")
	export.Flags().IntVar(&keep, "keep", 7, "archived copies to retain, 0 keeps all")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "archives",
		Short: "List archived snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			names, err := archive.List(cfg.DataDir)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})

	var headerOnly bool
	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace kits and merge user records from a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if headerOnly {
				h, err := snapshot.ReadHeader(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d created %s: %d kits, %d records, digest %s\n",
					h.Version, h.CreatedAt.Format(time.RFC3339), h.Kits, h.Records, h.KitsDigest)
				return nil
			}
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			defs, issues := snap.Definitions()
			for _, is := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "kit %s: %s %s\n", is.Kit, is.Field, is.Msg)
			}

			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			keep := make(map[string]bool, len(defs))
			for _, d := range defs {
				keep[d.ID] = true
			}
			for _, id := range a.Kits.Names() {
				if !keep[id] {
					if err := a.Kits.Delete(ctx, id); err != nil {
						return err
					}
				}
			}
			for _, d := range defs {
				if err := a.Kits.Put(ctx, d); err != nil {
					return fmt.Errorf("restore kit %s: %w", d.ID, err)
				}
			}
			if err := a.Records.Restore(ctx, snap.UserRecords()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d kits and %d records\n", len(defs), len(snap.Records))
			return nil
		},
	}
	imp.Flags().BoolVar(&headerOnly, "header", false, "only print the snapshot header")
	cmd.AddCommand(imp)
	return cmd
}

func newDBCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Query the grant index"}

	var (
		user   string
		kitID  string
		status string
		limit  int
	)
	grants := &cobra.Command{
		Use:   "grants",
		Short: "List recent grant attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)
			if a.Index == nil {
				return errors.New("grant index is disabled")
			}

			q := indexdb.GrantQuery{KitID: kit.NormalizeID(kitID), Status: grant.Status(status), Limit: limit}
			if user != "" {
				q.User = userID(user)
			}
			evs, err := a.Index.RecentGrants(ctx, q)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tUSER\tKIT\tSTATUS\tREASON\tFORCED\tCOST\tITEMS")
			for _, e := range evs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%d\n",
					e.At.Format(time.RFC3339), e.UserName, e.KitID, e.Status, e.Reason, e.Forced, e.Cost, e.Items)
			}
			return tw.Flush()
		},
	}
	grants.Flags().StringVar(&user, "user", "", "filter by user name or uuid")
	grants.Flags().StringVar(&kitID, "kit", "", "filter by kit id")
	grants.Flags().StringVar(&status, "status", "", "filter by status (success, rejected)")
	grants.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(grants)
	return cmd
}
