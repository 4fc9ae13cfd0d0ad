package solana

import "context"

// WatchSlots consumes slot notifications and invokes onSlot for every tick.
// The callback runs on the watcher goroutine; keep it cheap. Returns nil when
// the subscription channel closes (client shut down), ctx.Err() on cancel.
func WatchSlots(ctx context.Context, client WSClient, onSlot func(slot uint64)) error {
	ch, err := client.SubscribeSlots(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ch:
			if !ok {
				return nil
			}
			onSlot(tick.Slot)
		}
	}
}
