package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

const dateLayout = "2006-01-02"

type slotSeeder interface {
	EnsureSlot(ctx context.Context, slot model.Slot) (model.Slot, error)
	ListByListing(ctx context.Context, listingID string, from, to time.Time) ([]model.Slot, error)
}

// seedSlots materializes the generated grid for days starting at from. Slots
// already stored are left untouched; the count covers new and existing rows.
func seedSlots(ctx context.Context, store slotSeeder, gen *availability.Generator, listingID string, from time.Time, days int, now time.Time) (int, error) {
	total := 0
	for d := 0; d < days; d++ {
		day := from.AddDate(0, 0, d)
		window, ok := gen.Window(day)
		if !ok {
			continue
		}
		stored, err := store.ListByListing(ctx, listingID, window.Start.UTC(), window.End.UTC())
		if err != nil {
			return total, err
		}
		for _, slot := range gen.Day(listingID, day, availability.Busy(stored), now) {
			if _, err := store.EnsureSlot(ctx, slot); err != nil {
				return total, fmt.Errorf("ensure %s: %w", slot.ID, err)
			}
			total++
		}
	}
	return total, nil
}

func parseDay(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	if raw == "" {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return day, nil
}

func location(cmd *cobra.Command) (*time.Location, error) {
	tz, _ := cmd.Flags().GetString("tz")
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Inspect and manage listing slots",
	}
	cmd.PersistentFlags().String("tz", "", "Listing time zone (default UTC)")

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Store the generated slot grid for a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, _ := cmd.Flags().GetString("listing")
			date, _ := cmd.Flags().GetString("date")
			days, _ := cmd.Flags().GetInt("days")
			if listing == "" {
				return fmt.Errorf("--listing is required")
			}
			loc, err := location(cmd)
			if err != nil {
				return err
			}
			now := time.Now()
			from, err := parseDay(date, loc, now)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := seedSlots(ctx, storage.NewSlotRepository(pool), availability.NewGenerator(loc), listing, from, days, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d slot(s) for %s\n", n, listing)
			return nil
		},
	}
	seed.Flags().String("listing", "", "Listing id")
	seed.Flags().String("date", "", "First day (YYYY-MM-DD, default today)")
	seed.Flags().Int("days", 7, "Number of days to seed")
	cmd.AddCommand(seed)

	cmd.AddCommand(&cobra.Command{
		Use:   "block <slot-id>",
		Short: "Block an open slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			slot, err := storage.NewSlotRepository(pool).Block(ctx, args[0])
			if err != nil {
				return fmt.Errorf("block %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", slot.ID, slot.Status)
			return nil
		},
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored slots of a listing for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, _ := cmd.Flags().GetString("listing")
			date, _ := cmd.Flags().GetString("date")
			if listing == "" {
				return fmt.Errorf("--listing is required")
			}
			loc, err := location(cmd)
			if err != nil {
				return err
			}
			day, err := parseDay(date, loc, time.Now())
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			slots, err := storage.NewSlotRepository(pool).ListByListing(ctx, listing, day.UTC(), day.AddDate(0, 0, 1).UTC())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tEND\tSTATUS\tSOURCE")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.StartTime.In(loc).Format(time.RFC3339), s.EndTime.In(loc).Format(time.RFC3339), s.Status, s.Source)
			}
			return tw.Flush()
		},
	}
	list.Flags().String("listing", "", "Listing id")
	list.Flags().String("date", "", "Day (YYYY-MM-DD, default today)")
	cmd.AddCommand(list)
	return cmd
}
