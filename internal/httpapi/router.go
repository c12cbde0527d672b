// Package httpapi exposes the rule engine over HTTP: the device-event
// ingress webhook, rule and scene CRUD backed by internal/store, and an
// audit query/stream surface.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/httpmw"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/eventbus"
	"github.com/marchese29/HubitatRulesMCP/internal/rulehandler"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

// serverName identifies this process's spans and log lines, distinguishing
// them from any sibling service sharing the same OTel collector.
const serverName = "rule-engine"

// Dependencies bundles everything the router's handlers call into. Install
// is the hook used to bring a persisted rule definition back to life (see
// "Rule compilation substitution" in DESIGN.md): it resolves name
// against whatever static registry of compiled closures the process was
// started with. It may be nil, in which case install requests fail with a
// clear error instead of a nil-pointer panic.
type Dependencies struct {
	Engine      *engine.RuleEngine
	Handler     *rulehandler.Handler
	Scenes      *scene.Manager
	Store       store.Store
	Audit       *audit.Service
	Bus         eventbus.Bus
	Logger      *logger.Logger
	MaxDispatch int
	Install     func(ctx context.Context, name string) error
}

// NewRouter builds the gin engine with every route group registered.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.OtelTracing(serverName), httpmw.RequestLogger(deps.Logger, serverName))

	dispatch := &deviceEventHandler{
		engine: deps.Engine,
		sem:    semaphore.NewWeighted(int64(deps.MaxDispatch)),
		logger: deps.Logger,
	}
	router.POST("/he_event", dispatch.handle)

	registerRuleRoutes(router, deps)
	registerSceneRoutes(router, deps)
	registerAuditRoutes(router, deps)

	return router
}
