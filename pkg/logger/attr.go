package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

func NotificationID(id string) slog.Attr {
	return slog.String("notification_id", id)
}

func Worker(name string) slog.Attr {
	return slog.String("worker", name)
}

func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

func Exchange(name string) slog.Attr {
	return slog.String("exchange", name)
}

func RoutingKey(key string) slog.Attr {
	return slog.String("routing_key", key)
}

func SocketID(id string) slog.Attr {
	return slog.String("socket_id", id)
}

func Namespace(ns string) slog.Attr {
	return slog.String("namespace", ns)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Attempt records the 1-based attempt number of a retry chain.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Delay(d time.Duration) slog.Attr {
	return slog.Duration("delay", d)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
