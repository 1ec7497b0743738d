package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/records"
)

func newKitCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "kit", Short: "Manage kit definitions"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List kits in file order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tENABLED\tCOOLDOWN_MS\tCOST\tITEMS\tPRIORITY")
			for _, d := range a.Kits.ListAll() {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%d\t%d\n", d.ID, d.DisplayName, d.Enabled, d.CooldownMillis, d.Cost, d.ItemCount(), d.Priority)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a kit as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			d, err := a.Kits.Get(args[0])
			if err != nil {
				return err
			}
			b, err := kit.EncodeSection(d)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create an empty kit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			d, err := a.Kits.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created kit %s\n", d.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a kit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			if err := a.Kits.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted kit %s\n", kit.NormalizeID(args[0]))
			return nil
		},
	})

	for _, enable := range []bool{true, false} {
		use, short := "enable <id>", "Enable a kit"
		if !enable {
			use, short = "disable <id>", "Disable a kit"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, _, err := g.open(ctx, cmd)
				if err != nil {
					return err
				}
				defer closeApp(ctx, a)

				d, err := a.Kits.Update(ctx, args[0], func(d *kit.Definition) { d.Enabled = enable })
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "kit %s enabled=%t\n", d.ID, d.Enabled)
				return nil
			},
		})
	}
	return cmd
}

func newGiveCmd(g *globals) *cobra.Command {
	var (
		force bool
		world string
		perms []string
		level int
	)
	cmd := &cobra.Command{
		Use:   "give <user> <kit>",
		Short: "Grant a kit to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, h, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			act := host.StaticActor{
				UserID:      userID(args[0]),
				UserName:    args[0],
				WorldName:   world,
				Permissions: map[string]bool{},
				Lvl:         level,
			}
			for _, p := range perms {
				act.Permissions[p] = true
			}
			out := a.Engine.Grant(ctx, act, args[1], force)
			h.emit(outcomeOf(args[0], out))
			if !out.OK() {
				return fmt.Errorf("grant rejected: %s", out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "skip eligibility, cooldown and cost checks")
	cmd.Flags().StringVar(&world, "world", "world", "world the user is in")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permissions the user holds")
	cmd.Flags().IntVar(&level, "level", 0, "user level")
	return cmd
}

type recordView struct {
	Record records.Data   `json:"record"`
	Stats  cooldown.Stats `json:"stats"`
}

func newRecordCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Inspect and reset user records"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <user>",
		Short: "Print a user's record and usage statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			id := userID(args[0])
			view := recordView{
				Record: a.Records.Get(ctx, id).Snapshot(),
				Stats:  a.Cooldowns.Stats(ctx, id),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	})

	var kitID string
	reset := &cobra.Command{
		Use:   "reset <user>",
		Short: "Clear cooldowns and one-time claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			id := userID(args[0])
			if kitID != "" {
				a.Cooldowns.Clear(ctx, id, kitID)
				a.Cooldowns.ResetClaim(ctx, id, kitID)
			} else {
				a.Cooldowns.ClearAll(ctx, id)
				a.Records.Get(ctx, id).Update(func(d *records.Data) { clear(d.OneTimeClaimed) })
			}
			if err := a.Records.Flush(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", id)
			return nil
		},
	}
	reset.Flags().StringVar(&kitID, "kit", "", "reset only this kit")
	cmd.AddCommand(reset)

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup <user>",
		Short: "Drop expired cooldowns from a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			id := userID(args[0])
			a.Cooldowns.Cleanup(ctx, id)
			return a.Records.Flush(ctx, id)
		},
	})
	return cmd
}

func newBalanceCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "balance", Short: "Read and set ledger balances"}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user>",
		Short: "Print a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)
			if a.Ledger == nil {
				return errors.New("economy hook is disabled")
			}
			bal, err := a.Ledger.Balance(ctx, userID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(bal, 'f', -1, 64))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <user> <amount>",
		Short: "Set a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			ctx := cmd.Context()
			a, _, err := g.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)
			if a.Ledger == nil {
				return errors.New("economy hook is disabled")
			}
			return a.Ledger.Set(ctx, userID(args[0]), amount)
		},
	})
	return cmd
}
