package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

// ruleView is a RuleRecord annotated with whether the engine currently has
// it installed and running.
type ruleView struct {
	store.RuleRecord
	Active bool `json:"active"`
}

func registerRuleRoutes(router *gin.Engine, deps Dependencies) {
	group := router.Group("/rules")

	group.GET("", func(c *gin.Context) {
		records, err := deps.Store.ListRules(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		active := make(map[string]bool)
		for _, name := range deps.Handler.GetActiveRules() {
			active[name] = true
		}
		views := make([]ruleView, 0, len(records))
		for _, r := range records {
			views = append(views, ruleView{RuleRecord: *r, Active: active[r.Name]})
		}
		c.JSON(http.StatusOK, gin.H{"rules": views})
	})

	group.GET("/:name", func(c *gin.Context) {
		name := c.Param("name")
		record, err := deps.Store.GetRule(c.Request.Context(), name)
		if err != nil {
			status := http.StatusInternalServerError
			if err == store.ErrNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		active := false
		for _, n := range deps.Handler.GetActiveRules() {
			if n == name {
				active = true
				break
			}
		}
		c.JSON(http.StatusOK, ruleView{RuleRecord: *record, Active: active})
	})

	// POST /rules persists a rule definition. It does not install it: the
	// trigger/action text columns are opaque to the core (see "Rule
	// compilation substitution" in DESIGN.md); install resolves
	// them against the process's static closure registry.
	group.POST("", func(c *gin.Context) {
		var record store.RuleRecord
		if err := c.ShouldBindJSON(&record); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if record.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		if err := deps.Store.SaveRule(c.Request.Context(), &record); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, record)
	})

	group.POST("/:name/install", func(c *gin.Context) {
		name := c.Param("name")
		if deps.Install == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "no rule registry configured for this process"})
			return
		}
		if err := deps.Install(c.Request.Context(), name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	group.DELETE("/:name", func(c *gin.Context) {
		name := c.Param("name")
		// Not being active is fine; the record may still need deleting.
		_ = deps.Handler.UninstallRule(name)
		if err := deps.Store.DeleteRule(c.Request.Context(), name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}
