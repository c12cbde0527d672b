package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// deviceEventHandler is the fire-and-forget webhook ingress: it validates
// the payload, hands it to a bounded pool of goroutines, and returns
// immediately without waiting for propagation to finish. A full dispatch
// pool sheds load with 503 rather than queuing unboundedly.
type deviceEventHandler struct {
	engine *engine.RuleEngine
	sem    *semaphore.Weighted
	logger *logger.Logger
}

func (h *deviceEventHandler) handle(c *gin.Context) {
	var envelope hubitat.DeviceEventEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evt := envelope.Content

	if !h.sem.TryAcquire(1) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device event dispatch is at capacity"})
		return
	}

	go func() {
		defer h.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("panic dispatching device event",
					zap.Int("device_id", evt.DeviceID), zap.Any("panic", r))
			}
		}()
		h.engine.OnDeviceEvent(evt)
	}()

	c.Status(http.StatusAccepted)
}
