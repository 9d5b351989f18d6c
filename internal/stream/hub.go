package stream

import (
	"context"
	"sync"
	"time"

	"backend-runaway/internal/logging"
	"backend-runaway/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix    = "running:"
	channelSuffix    = ":broadcast"
	subscribeTimeout = 2 * time.Second
)

// Hub fans live session updates out to websocket clients. With Redis
// configured every update goes through the running:{session}:broadcast
// channel so clients connected to other instances receive it as well.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
	}
	if redisClient == nil {
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := redisClient.PSubscribe(ctx, redisChannel("*"))
	recvCtx, recvCancel := context.WithTimeout(ctx, subscribeTimeout)
	defer recvCancel()
	if _, err := pubsub.Receive(recvCtx); err != nil {
		logging.Warn().Err(err).Msg("live stream subscription failed, serving local clients only")
		_ = pubsub.Close()
		cancel()
		return h
	}

	h.redis = redisClient
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.forward(ctx, pubsub)
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		if _, ok := sessionClients[client]; !ok {
			return
		}
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
		close(client.Send)
	}
}

// Broadcast sends payload to every client following sessionID. When the
// Redis publish fails the update is still delivered locally.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	metrics.LiveBroadcasts.Inc()
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err == nil {
			return
		}
		logging.Warn().Err(err).Str("session_id", sessionID).Msg("redis publish failed")
	}
	h.deliver(sessionID, payload)
}

// Publish encodes v as JSON and broadcasts it.
func (h *Hub) Publish(sessionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, payload)
	return nil
}

// Close stops the Redis subscription.
func (h *Hub) Close() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
			// slow consumer, drop
		}
	}
}

func (h *Hub) forward(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if sessionID := sessionIDFromChannel(msg.Channel); sessionID != "" {
				h.deliver(sessionID, []byte(msg.Payload))
			}
		}
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	// running:{session}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
