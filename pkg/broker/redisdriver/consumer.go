package redisdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

type consumer struct {
	conn   *Conn
	queue  string
	tag    string
	stream string
	slots  chan struct{}
	fn     func(broker.Delivery)
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *consumer) run() {
	defer c.conn.wg.Done()

	claim := true
	for {
		select {
		case c.slots <- struct{}{}:
		case <-c.ctx.Done():
			return
		}

		msg, redelivered, err := c.next(claim)
		switch {
		case c.ctx.Err() != nil:
			<-c.slots
			return
		case errors.Is(err, redis.Nil):
			<-c.slots
			claim = true
			continue
		case err != nil:
			<-c.slots
			go c.conn.shutdown(fmt.Errorf("consume %q: %w", c.queue, err))
			return
		}
		claim = false

		go func() {
			defer func() { <-c.slots }()
			c.fn(c.delivery(msg, redelivered))
		}()
	}
}

// next returns one entry, preferring abandoned pending entries when claim is
// set. redis.Nil means nothing arrived within the block timeout.
func (c *consumer) next(claim bool) (redis.XMessage, bool, error) {
	d := c.conn.d
	if claim {
		msgs, _, err := d.client.XAutoClaim(c.ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    d.group,
			Consumer: c.tag,
			MinIdle:  d.claimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, err
		}
		if len(msgs) > 0 {
			return msgs[0], true, nil
		}
	}

	streams, err := d.client.XReadGroup(c.ctx, &redis.XReadGroupArgs{
		Group:    d.group,
		Consumer: c.tag,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    d.block,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, err
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], false, nil
		}
	}
	return redis.XMessage{}, false, redis.Nil
}

func (c *consumer) delivery(msg redis.XMessage, claimed bool) broker.Delivery {
	headers := map[string]string{}
	if raw := str(msg.Values[fieldHeaders]); raw != "" && raw != "null" {
		_ = json.Unmarshal([]byte(raw), &headers)
	}

	d := c.conn.d
	ctx := context.WithoutCancel(c.ctx)
	return broker.Delivery{
		Exchange:    str(msg.Values[fieldExchange]),
		RoutingKey:  str(msg.Values[fieldRoutingKey]),
		Body:        []byte(str(msg.Values[fieldBody])),
		Headers:     headers,
		Redelivered: claimed || str(msg.Values[fieldRedelivered]) == "1",
		Ack: func() error {
			_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.XAck(ctx, c.stream, d.group, msg.ID)
				p.XDel(ctx, c.stream, msg.ID)
				return nil
			})
			return err
		},
		Nack: func(requeue bool) error {
			values := make(map[string]any, len(msg.Values)+1)
			for k, v := range msg.Values {
				values[k] = v
			}
			target := c.stream
			if requeue {
				values[fieldRedelivered] = "1"
			} else {
				delete(values, fieldRedelivered)
				target = d.streamKey(broker.DeadLetterQueue(c.queue))
			}
			_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if !requeue {
					p.SAdd(ctx, d.queuesKey(), broker.DeadLetterQueue(c.queue))
				}
				p.XAdd(ctx, &redis.XAddArgs{Stream: target, Values: values})
				p.XAck(ctx, c.stream, d.group, msg.ID)
				p.XDel(ctx, c.stream, msg.ID)
				return nil
			})
			return err
		},
	}
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
