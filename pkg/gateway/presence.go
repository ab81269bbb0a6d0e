package gateway

import (
	"context"

	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// PresenceKey is the cache key holding the socket id of an online user.
func PresenceKey(userID string) string {
	return "presence:" + userID
}

func (g *Gateway) writePresence(ctx context.Context, userID, socketID string) {
	if g.presence == nil {
		return
	}
	if err := g.presence.Set(ctx, PresenceKey(userID), []byte(socketID), g.presenceTTL); err != nil {
		g.logger.WarnContext(ctx, "failed to record presence",
			logger.Component("gateway"),
			logger.UserID(userID),
			logger.SocketID(socketID),
			logger.Error(err))
	}
}

// clearPresence removes the entry only while it still points at socketID, so
// a newer connection of the same user keeps its status.
func (g *Gateway) clearPresence(ctx context.Context, userID, socketID string) {
	if g.presence == nil {
		return
	}
	key := PresenceKey(userID)
	current, err := g.presence.Get(ctx, key)
	switch {
	case cache.IsMiss(err):
		return
	case err != nil:
		g.logger.WarnContext(ctx, "failed to read presence",
			logger.Component("gateway"),
			logger.UserID(userID),
			logger.Error(err))
		return
	case string(current) != socketID:
		return
	}
	if err := g.presence.Delete(ctx, key); err != nil {
		g.logger.WarnContext(ctx, "failed to clear presence",
			logger.Component("gateway"),
			logger.UserID(userID),
			logger.Error(err))
	}
}

// Online reports whether userID has presence recorded. Without a presence
// cache it falls back to the user's room on the default namespace.
func (g *Gateway) Online(ctx context.Context, userID string) bool {
	if g.presence == nil {
		return g.RoomSize(DefaultNamespace, UserRoom(userID)) > 0
	}
	_, err := g.presence.Get(ctx, PresenceKey(userID))
	return err == nil
}
