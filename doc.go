// Package cloudbackend provides topic-based messaging on top of a generic
// entity store, with push-triggered delivery of offline messages.
//
// Messages are stored as entities of kind "_CloudMessages". Sending a message
// persists it and announces its topic through a push transport. A device that
// receives the announcement fetches everything newer than what it has already
// seen, up to a per-subscription limit, and hands the batch to the handler
// registered for that topic.
//
// # Features
//
//   - TopicRegistry: at most one subscription per topic, with delivery watermarks
//   - PushDispatcher: turns a topic-id notification into backlog fetches
//   - MessagingManager: create, send, subscribe and unsubscribe
//   - Broadcast topic delivered to every subscription
//   - EntityCollection: bulk writes and scoped continuous queries rerun on push
//   - Pluggable EntityService: SQL via Relica, Google Cloud Firestore
//   - Pluggable push transport: in-process loopback, Redis, Google Cloud Pub/Sub
//   - Bounded dispatch via an ants worker pool
//   - TTL-based message retention on a cron schedule
//   - Embedded SQL migrations for MySQL, PostgreSQL and SQLite
//
// # Quick Start
//
//	import (
//	    "database/sql"
//
//	    "github.com/coregx/cloudbackend"
//	    "github.com/coregx/cloudbackend/adapters/relica"
//	    "github.com/coregx/cloudbackend/push"
//	    _ "github.com/mattn/go-sqlite3"
//	)
//
//	db, _ := sql.Open("sqlite3", "cloudbackend.db")
//
//	// Open applies the embedded migrations.
//	repo, err := relica.Open(ctx, db, "sqlite3", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loopback := push.NewLoopback(64)
//	manager, err := cloudbackend.NewMessagingManager(
//	    cloudbackend.WithEntityService(repo),
//	    cloudbackend.WithLogger(logger),
//	    cloudbackend.WithNotifier(loopback),
//	)
//
// Subscribe to a topic:
//
//	err = manager.Subscribe("weather", 20, func(msgs []model.Message, err error) {
//	    if err != nil {
//	        return
//	    }
//	    for _, m := range msgs {
//	        fmt.Println(m.Payload)
//	    }
//	})
//
// Feed push notifications into the manager:
//
//	go push.Run(ctx, loopback, func(ctx context.Context, topicID string) {
//	    manager.HandlePushNotification(ctx, topicID)
//	}, retry.DefaultStrategy(), zl)
//
// Send a message:
//
//	msg := manager.CreateMessage("weather")
//	msg.Payload = "Sunny, 24C"
//	msg.TTLSeconds = 3600
//	sent, err := manager.Send(ctx, msg)
//
// # Delivery
//
//  1. SEND
//     MessagingManager.Send → EntityService.Create
//     → Notifier.Notify(topicID)
//
//  2. PUSH
//     Source.Receive → MessagingManager.HandlePushNotification
//     → TopicRegistry.Lookup (the broadcast topic reaches every subscription)
//
//  3. FETCH
//     PushDispatcher → query messages newer than the watermark, newest first
//     → advance the watermark → invoke the handler on the Executor
//
// Each subscription has at most one fetch in flight. A notification that
// arrives during a fetch schedules exactly one more fetch after it.
//
// # Standalone Server
//
// cmd/cloudbackend-server exposes the manager over REST and WebSocket:
//
//	cloudbackend-server serve --config config.yaml
//
// # Examples
//
// See examples/basic for a single-process send and receive.
package cloudbackend
