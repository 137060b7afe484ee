package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/visitbook/libs/grpcx"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release slots left booked without an active visit",
		RunE: func(cmd *cobra.Command, args []string) error {
			grace, _ := cmd.Flags().GetDuration("grace")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := booking.NewService(storage.NewSlotRepository(pool), storage.NewVisitRepository(pool), quietLogger(cmd), booking.Config{})
			released, err := svc.ReconcileStrandedSlots(ctx, grace, limit)
			if err != nil {
				return err
			}
			for _, id := range released {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d slot(s)\n", len(released))
			return nil
		},
	}
	cmd.Flags().Duration("grace", 10*time.Minute, "Minimum age of a reservation before it is considered stranded")
	cmd.Flags().Int("limit", 100, "Maximum slots examined")
	cmd.Flags().Bool("verbose", false, "Log sweep details to stderr")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <visit-id>",
		Short: "Print the status history of a visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			pool, err := openPool(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := storage.NewVisitRepository(pool).History(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tEVENT\tFROM\tTO\tSLOT\tACTOR\tREASON")
			for _, e := range entries {
				slot := e.ToSlotID
				if e.FromSlotID != "" && e.FromSlotID != e.ToSlotID {
					slot = e.FromSlotID + " -> " + e.ToSlotID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s:%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.EventType, e.FromStatus, e.ToStatus, slot, e.ActorType, e.ActorID, e.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	return cmd
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health endpoint of a running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			ctx, cancel := commandContext(cmd)
			defer cancel()

			conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service is %s", resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:9095", "gRPC address")
	return cmd
}
