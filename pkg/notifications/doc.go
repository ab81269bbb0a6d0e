// Package notifications persists notifications and delivers them through
// channel-specific senders.
//
// Service.Create stores a notification with delivered=false and, when
// delivery is requested, publishes one Job to the "notifications" exchange
// under the routing key "notifications.delivery.<channel>". A delivery
// worker per channel consumes notifications.<channel>, hands the job to the
// Dispatcher and flips delivered once the Sender confirms.
//
//	svc := notifications.NewService(store, brokerClient)
//	dispatcher := notifications.NewDispatcher(store,
//		notifications.WithSender(notifications.DeliveryInApp, notifications.NewInAppSender(gw)),
//	)
//	workers := notifications.NewDeliveryWorkers(brokerClient, dispatcher, cfg)
//
// Storage is implemented in memory and on PostgreSQL. NewRouter exposes the
// service over HTTP.
package notifications
