package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/handlers"
	"github.com/clinicref/backend/internal/middleware"
)

// Handlers bundles every HTTP handler the router serves
type Handlers struct {
	Leads          *handlers.LeadHandler
	Commissions    *handlers.CommissionHandler
	Establishments *handlers.EstablishmentHandler
	Teams          *handlers.TeamHandler
	Health         *handlers.HealthHandler
}

// Options configures global middleware
type Options struct {
	AllowOrigins []string
	HSTS         bool
	Logger       *zap.Logger
	RateLimiter  *middleware.RateLimiter
}

// NewRouter builds the gin engine with middleware and all routes
func NewRouter(h Handlers, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(middleware.SecureHeaders(opts.HSTS))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.Health.Health)

	api := router.Group("/api")
	RegisterLeadRoutes(api, h.Leads, opts.RateLimiter)
	RegisterCommissionRoutes(api, h.Commissions, opts.RateLimiter)
	RegisterEstablishmentRoutes(api, h.Establishments, opts.RateLimiter)
	RegisterTeamRoutes(api, h.Teams, opts.RateLimiter)

	return router
}

// RegisterLeadRoutes registers lead and conversion routes
func RegisterLeadRoutes(api *gin.RouterGroup, leadHandler *handlers.LeadHandler, limiter *middleware.RateLimiter) {
	leads := api.Group("/leads")
	{
		leads.GET("", leadHandler.ListLeads)
		leads.GET("/:id", leadHandler.GetLead)
		leads.POST("", limit(limiter), leadHandler.CreateLead)
		leads.PATCH("/:id/status", limit(limiter), leadHandler.UpdateStatus)
		leads.POST("/:id/convert", limit(limiter), leadHandler.ConvertLead)
	}
}

// RegisterCommissionRoutes registers commission ledger routes
func RegisterCommissionRoutes(api *gin.RouterGroup, commissionHandler *handlers.CommissionHandler, limiter *middleware.RateLimiter) {
	commissions := api.Group("/commissions")
	{
		commissions.GET("", commissionHandler.ListCommissions)
		commissions.GET("/summary", commissionHandler.Summary)
		commissions.POST("/preview", limit(limiter), commissionHandler.Preview)
	}
}

// RegisterEstablishmentRoutes registers establishment configuration routes
func RegisterEstablishmentRoutes(api *gin.RouterGroup, establishmentHandler *handlers.EstablishmentHandler, limiter *middleware.RateLimiter) {
	establishments := api.Group("/establishments/:code")
	{
		establishments.GET("/commission-config", establishmentHandler.GetCommissionConfig)
		establishments.PUT("/commission-config", limit(limiter), establishmentHandler.PutCommissionConfig)
	}
}

// RegisterTeamRoutes registers manager team routes
func RegisterTeamRoutes(api *gin.RouterGroup, teamHandler *handlers.TeamHandler, limiter *middleware.RateLimiter) {
	managers := api.Group("/managers/:id/team")
	{
		managers.GET("", teamHandler.GetTeam)
		managers.PUT("/:consultantId", limit(limiter), teamHandler.AssignConsultant)
		managers.DELETE("/:consultantId", limit(limiter), teamHandler.RemoveConsultant)
	}
}

func limit(limiter *middleware.RateLimiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return limiter.Middleware()
}
