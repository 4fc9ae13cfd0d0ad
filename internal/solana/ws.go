package solana

import "context"

// WSClient defines the Solana WebSocket subscription surface used for
// chain-head freshness tracking.
type WSClient interface {
	// SubscribeSlots subscribes to slot progression notifications.
	// A client carries at most one slot subscription.
	SubscribeSlots(ctx context.Context) (<-chan SlotNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}
