package notify

import (
	"context"
	"strconv"
	"strings"

	redisSvc "haine/internal/service/redis"
	"haine/internal/utils/log"

	"go.uber.org/zap"
)

const channelPrefix = "haine:updates:"

// RedisNotifier fans wakeups out through redis pub/sub so that every server
// instance wakes its local pollers.
type RedisNotifier struct {
	redis *redisSvc.RedisService
	hub   *Hub
}

func NewRedisNotifier(redis *redisSvc.RedisService) *RedisNotifier {
	return &RedisNotifier{
		redis: redis,
		hub:   NewHub(),
	}
}

// Run relays published wakeups to local subscribers until ctx is done.
func (n *RedisNotifier) Run(ctx context.Context) error {
	ps, err := n.redis.PSubscribe(ctx, channelPrefix+"*")
	if err != nil {
		return err
	}
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, ok := parseChannel(msg.Channel)
			if !ok {
				log.Warn("unexpected update channel", zap.String("channel", msg.Channel))
				continue
			}
			n.hub.Notify(ctx, id)
		}
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		if err := n.redis.Publish(ctx, channelName(id), "1"); err != nil {
			// pollers still pick the change up on their next interval
			log.Warn("publish update failed", zap.Int64("user", id), zap.Error(err))
		}
	}
}

func (n *RedisNotifier) Subscribe(userID int64) (<-chan struct{}, func()) {
	return n.hub.Subscribe(userID)
}

func channelName(userID int64) string {
	return channelPrefix + strconv.FormatInt(userID, 10)
}

func parseChannel(channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}
