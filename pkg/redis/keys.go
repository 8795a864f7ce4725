package redis

import "fmt"

// Key construction helpers for the delivery journal

// DeliveriesKey returns the key for the messages a client received (list)
// Pattern: mqtt:deliveries:{client_id}
func DeliveriesKey(clientID string) string {
	return fmt.Sprintf("mqtt:deliveries:%s", clientID)
}

// LifecycleKey returns the key for a client's connection events (list)
// Pattern: mqtt:lifecycle:{client_id}
func LifecycleKey(clientID string) string {
	return fmt.Sprintf("mqtt:lifecycle:%s", clientID)
}
