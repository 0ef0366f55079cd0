package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"notifygate/internal/models"
	"notifygate/pkg/circuitbreaker"
)

// BrokerStatus reports queue-broker connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

type Health struct {
	breakers []*circuitbreaker.Breaker
	redis    *redis.Client
	broker   BrokerStatus
	started  time.Time
}

func NewHealth(breakers []*circuitbreaker.Breaker, rdb *redis.Client, broker BrokerStatus) *Health {
	return &Health{
		breakers: breakers,
		redis:    rdb,
		broker:   broker,
		started:  time.Now(),
	}
}

// Check reports breaker states and dependency connectivity. It never
// fails closed: degraded dependencies show up in the payload, not in
// the status code.
func (h *Health) Check(c *gin.Context) {
	breakerStats := make(map[string]circuitbreaker.Stats, len(h.breakers))
	for _, b := range h.breakers {
		breakerStats[b.Name()] = b.Stats()
	}

	redisStatus := "connected"
	if h.redis == nil || h.redis.Ping(c.Request.Context()).Err() != nil {
		redisStatus = "disconnected"
	}
	brokerStatus := "connected"
	if h.broker == nil || !h.broker.IsConnected() {
		brokerStatus = "disconnected"
	}

	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":           "ok",
		"service":          "notification-gateway",
		"circuit_breakers": breakerStats,
		"dependencies": gin.H{
			"redis":    redisStatus,
			"rabbitmq": brokerStatus,
		},
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC(),
	}, "Notification gateway is healthy"))
}
