package natsdriver

import "strings"

const (
	directPrefix  = "_queue."
	requeuePrefix = "_requeue."
	deadPrefix    = "_dead."
	emptyKey      = "_"
)

// publishSubject builds the subject for a message.
func publishSubject(exchange, routingKey string) string {
	if exchange == "" {
		return directPrefix + routingKey
	}
	if routingKey == "" {
		routingKey = emptyKey
	}
	return exchange + "." + routingKey
}

// routingKeyOf recovers the routing key from a subject on exchange.
func routingKeyOf(exchange, subject string) string {
	if exchange == "" {
		return strings.TrimPrefix(subject, directPrefix)
	}
	key := strings.TrimPrefix(subject, exchange+".")
	if key == emptyKey {
		return ""
	}
	return key
}

// bindingSubject returns the subscription filter for a binding.
func bindingSubject(exchange, bindingKey string, fanout bool) string {
	if fanout || bindingKey == "" || strings.Contains(bindingKey, "#") {
		return exchange + ".>"
	}
	return exchange + "." + bindingKey
}
