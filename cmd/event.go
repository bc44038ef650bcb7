package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Billing event commands",
	Long:  `Publish test events through the event bus and the Kafka audit topic`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test event to the event bus and forward it to Kafka, for checking the audit pipeline`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(args[0])
	},
}

var (
	eventData      string
	eventPaymentID string
)

func publishTestEvent(eventType string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	brokers := cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	writer := events.NewKafkaWriter(brokers, cfg.Kafka.Topic)
	defer writer.Close()

	bus := events.NewEventBus(lg)
	events.NewKafkaForwarder(writer, lg).Register(bus, eventType)

	testEvent := events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"payment_id": getStringFlag(eventPaymentID, uuid.NewString()),
			"message":    eventData,
			"source":     "cli-command",
		},
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", testEvent.ID, "topic", cfg.Kafka.Topic)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.PublishSync(ctx, testEvent); err != nil {
		lg.Error("failed to publish event", "error", err)
		return err
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().StringVar(&eventPaymentID, "payment-id", "", "Payment id used as the partition key")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
