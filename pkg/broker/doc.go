// Package broker is the message queue abstraction used by the delivery
// pipeline.
//
// Provider exposes the topic-exchange primitives the rest of notifykit needs:
// publish, subscribe, queue and exchange management. Client implements
// Provider on top of a pluggable Driver and adds the parts every transport
// shares:
//
//   - payload compression through compress.Codec, with the metadata carried in
//     the x-compression header so consumers can reverse it;
//   - automatic reconnection with capped exponential backoff
//     (github.com/sethvargo/go-retry) that never gives up until Close;
//   - a subscription table replayed on every reconnect, so consumers resume
//     without re-subscribing;
//   - ack on handler success, nack (optionally requeued) on failure, and panic
//     recovery around handlers.
//
// Drivers live in sub-packages:
//
//   - memdriver: in-process broker for tests and single-node deployments;
//   - redisdriver: Redis streams with consumer groups;
//   - natsdriver: core NATS subjects and queue groups.
//
// Usage:
//
//	client := broker.NewClient(redisdriver.New(rdb), broker.WithCodec(codec))
//	if err := client.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe(ctx, "notifications.email", func(ctx context.Context, msg *broker.Message) error {
//	    var job Job
//	    if err := msg.Decode(ctx, &job); err != nil {
//	        return err
//	    }
//	    return send(ctx, job)
//	}, broker.SubscribeOptions{Exchange: "notifications", RoutingKey: "notifications.delivery.email"})
package broker
