package daemon

// Broadcaster fans a Notification out to every subscribed client on the
// daemon's Unix-socket registry. It exists as a thin seam above
// ClientRegistry so worker code depends on an interface, not the
// registry's connection-management internals.
type Broadcaster struct {
	clients *ClientRegistry
}

// NewBroadcaster wraps clients for use by worker/RPC code.
func NewBroadcaster(clients *ClientRegistry) *Broadcaster {
	return &Broadcaster{clients: clients}
}

// Publish fans n out to every client subscribed to n.Topic.
func (b *Broadcaster) Publish(n Notification) {
	if b == nil || b.clients == nil {
		return
	}
	b.clients.Notify(n)
}
