package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/visitbook/libs/config"
	"github.com/md-rashed-zaman/visitbook/libs/kafkax"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
)

var visitTopics = []string{
	outbox.EventVisitCreated,
	outbox.EventVisitCanceled,
	outbox.EventVisitRescheduled,
	outbox.EventVisitStatusChanged,
}

// formatEvent renders one message as a single line.
func formatEvent(ctx context.Context, msg kafka.Message) string {
	meta := kafkax.ExtractEventMeta(msg)
	traceID := "-"
	if sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(ctx, msg)); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	return fmt.Sprintf("%s %s key=%s event_id=%s trace=%s %s",
		msg.Time.UTC().Format("2006-01-02T15:04:05Z"), meta.EventType, string(msg.Key), meta.EventID, traceID, string(msg.Value))
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect visit activity events",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print visit events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			brokersRaw, _ := cmd.Flags().GetString("brokers")
			group, _ := cmd.Flags().GetString("group")
			brokers := kafkax.SplitBrokers(brokersRaw)
			if len(brokers) == 0 {
				return fmt.Errorf("--brokers or KAFKA_BROKERS is required")
			}

			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				GroupID:     group,
				GroupTopics: visitTopics,
				MinBytes:    1,
				MaxBytes:    10e6,
			})
			defer reader.Close()

			ctx := cmd.Context()
			for {
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ctx, msg))
			}
		},
	}
	tail.Flags().String("brokers", config.String("KAFKA_BROKERS", ""), "Comma separated Kafka brokers")
	tail.Flags().String("group", "visitctl", "Consumer group id")
	cmd.AddCommand(tail)
	return cmd
}
