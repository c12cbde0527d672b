package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

func registerSceneRoutes(router *gin.Engine, deps Dependencies) {
	group := router.Group("/scenes")

	group.GET("", func(c *gin.Context) {
		deviceID := 0
		if v := c.Query("device_id"); v != "" {
			if _, err := fmt.Sscan(v, &deviceID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
				return
			}
		}
		scenes, err := deps.Scenes.GetScenes(c.Request.Context(), c.Query("name"), deviceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"scenes": scenes})
	})

	group.POST("", func(c *gin.Context) {
		var sc scene.Scene
		if err := c.ShouldBindJSON(&sc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := deps.Scenes.CreateScene(sc)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err := persistScene(c.Request.Context(), deps.Store, created); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if deps.Audit != nil {
			deps.Audit.LogEvent(audit.EventTypeSceneLifecycle, audit.SubtypeSceneCreated, audit.WithSceneName(created.Name))
		}
		c.JSON(http.StatusCreated, created)
	})

	group.DELETE("/:name", func(c *gin.Context) {
		name := c.Param("name")
		if _, err := deps.Scenes.DeleteScene(name); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Store.DeleteScene(c.Request.Context(), name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if deps.Audit != nil {
			deps.Audit.LogEvent(audit.EventTypeSceneLifecycle, audit.SubtypeSceneDeleted, audit.WithSceneName(name))
		}
		c.Status(http.StatusNoContent)
	})

	group.POST("/:name/set", func(c *gin.Context) {
		name := c.Param("name")
		result, err := deps.Scenes.SetScene(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if deps.Audit != nil {
			deps.Audit.LogEvent(audit.EventTypeSceneLifecycle, audit.SubtypeSceneApplied,
				audit.WithSceneName(name), audit.WithSuccess(result.Success))
		}
		status := http.StatusOK
		if !result.Success {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	})
}

// persistScene mirrors a scene created in the in-memory manager into the
// store, so it survives a restart and GetScenes's status annotation has
// something to reload from (see cmd/ruleengine's startup scene reload).
func persistScene(ctx context.Context, st store.Store, sc scene.Scene) error {
	encoded, err := json.Marshal(sc.DeviceStates)
	if err != nil {
		return fmt.Errorf("encode device states: %w", err)
	}
	return st.SaveScene(ctx, &store.SceneRecord{
		Name:         sc.Name,
		Description:  sc.Description,
		DeviceStates: string(encoded),
	})
}
