// Package redis connects to Redis for the cache provider and the Redis
// streams broker driver.
//
// Connect retries the initial ping with capped exponential backoff so a
// service started alongside Redis (docker compose, k8s) waits instead of
// crashing:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Healthcheck returns a probe suitable for readiness endpoints.
package redis
