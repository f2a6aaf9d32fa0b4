package rabbitmq

import (
	"fmt"

	"canteen-sync/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declareTopology declares the event exchange and the kitchen display queue,
// which takes every order event.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if _, err := ch.QueueDeclare(contracts.QueueKitchenDisplay, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", contracts.QueueKitchenDisplay, err)
	}

	if err := ch.QueueBind(contracts.QueueKitchenDisplay, contracts.RouteOrderPrefix+"#", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", contracts.QueueKitchenDisplay, exchange, err)
	}
	return nil
}
