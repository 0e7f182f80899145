// Package streamwire is a publish/subscribe messaging client with
// request/reply and automatic reconnection.
//
// # Architecture
//
// The client is split into focused packages:
//
//	┌─────────────────────────────────────┐
//	│            client                   │  Connection lifecycle,
//	│  (publish, subscribe, request)      │  reconnect, dispatch
//	└─────────────────────────────────────┘
//	           ↓ frames via
//	┌─────────────────────────────────────┐
//	│             wire                    │  Protocol writer, parser,
//	│   (frames, subjects, wildcards)     │  subject matching
//	└─────────────────────────────────────┘
//	           ↓ bytes via
//	┌─────────────────────────────────────┐
//	│           transport                 │  TCP, TLS, WebSocket,
//	│     (dialers, byte streams)         │  in-memory pipe
//	└─────────────────────────────────────┘
//
// Supporting packages: nuid generates the unique tokens behind inboxes and
// client names, serializer encodes payloads, metric exposes Prometheus
// collectors, health serves liveness over HTTP, and config loads client
// settings from JSON and the environment.
//
// # Delivery Model
//
// Subscription handlers run on a bounded worker pool, never on the read
// loop. A handler that blocks delays other handlers but cannot stall frame
// parsing or PING handling; when the dispatch queue fills, messages are
// dropped and counted rather than applying backpressure to the server.
//
// While the connection is down, publishes are buffered up to a configured
// limit and flushed in order after the subscriptions are replayed. Beyond
// the limit, Publish fails fast so callers see the outage instead of
// unbounded memory growth.
//
// # Basic Usage
//
//	conn := client.NewConn("broker.internal:4222",
//	    client.WithName("orders-svc"))
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	sub, err := conn.Subscribe("orders.>", func(m *client.Msg) {
//	    log.Printf("received %s", m.Subject)
//	})
//
//	err = conn.Publish("orders.created", order)
//
//	reply, err := conn.Request(ctx, "billing.charge", invoice)
package streamwire
