package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/handlers"
	"github.com/phonginreallife/oncall/services"
)

// Services are the wired domain services the API exposes.
type Services struct {
	Pipeline   *services.AlertPipeline
	Routing    *services.RoutingService
	Escalation *services.EscalationService
	Resolver   *services.ScheduleResolver
	Overrides  *services.OverrideService
	Rotations  *services.RotationService
	Groups     *services.GroupService
	Users      *services.UserService
	Clock      services.Clock
}

func NewGinRouter(svc Services, auth *handlers.AuthMiddleware, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize handlers
	alertHandler := handlers.NewAlertHandler(svc.Pipeline, svc.Escalation, svc.Routing, logger)
	routingHandler := handlers.NewRoutingHandler(svc.Routing)
	onCallHandler := handlers.NewOnCallHandler(svc.Resolver, svc.Clock)
	rotationHandler := handlers.NewRotationHandler(svc.Rotations)
	overrideHandler := handlers.NewOverrideHandler(svc.Overrides)
	groupHandler := handlers.NewGroupHandler(svc.Groups)
	userHandler := handlers.NewUserHandler(svc.Users)

	// PUBLIC ENDPOINTS (no authentication required)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// PROTECTED ENDPOINTS
	protected := r.Group("/")
	protected.Use(auth.RequireAuth())
	{
		alertRoutes := protected.Group("/alerts")
		{
			alertRoutes.POST("", alertHandler.IngestAlert)
			alertRoutes.GET("/:id", alertHandler.GetAlert)
			alertRoutes.GET("/:id/escalations", alertHandler.GetEscalationHistory)
			alertRoutes.GET("/:id/routing", alertHandler.GetRoutingHistory)
			alertRoutes.POST("/:id/escalation", alertHandler.ProcessEscalation)
			alertRoutes.POST("/:id/acknowledge", alertHandler.AcknowledgeAlert)
			alertRoutes.POST("/:id/stop", alertHandler.StopEscalation)
			alertRoutes.POST("/:id/retrigger", alertHandler.RetriggerEscalation)
			alertRoutes.POST("/:id/close", alertHandler.CloseAlert)
		}

		routingRoutes := protected.Group("/routing-tables")
		{
			routingRoutes.POST("", routingHandler.CreateRoutingTable)
			routingRoutes.POST("/:id/rules", routingHandler.CreateRoutingRule)
		}
		protected.POST("/routing/test", routingHandler.TestRouting)

		protected.GET("/oncall/:ownerId", onCallHandler.GetEffectiveOnCall)

		userRoutes := protected.Group("/users")
		{
			userRoutes.POST("", userHandler.CreateUser)
			userRoutes.GET("/:id", userHandler.GetUser)
			userRoutes.PUT("/:id/fcm-token", userHandler.UpdateFCMToken)
		}

		protected.POST("/groups", groupHandler.CreateGroup)
		protected.GET("/policies/:id", groupHandler.GetEscalationPolicy)

		groupRoutes := protected.Group("/groups/:id")
		{
			groupRoutes.GET("", groupHandler.GetGroup)
			groupRoutes.POST("/members", groupHandler.AddGroupMember)
			groupRoutes.POST("/policies", groupHandler.CreateEscalationPolicy)
			groupRoutes.POST("/rotations", rotationHandler.CreateRotationCycle)
			groupRoutes.POST("/rotations/preview", rotationHandler.PreviewRotation)
			groupRoutes.GET("/overrides", overrideHandler.ListGroupOverrides)
		}

		rotationRoutes := protected.Group("/rotations/:id")
		{
			rotationRoutes.GET("/current", rotationHandler.GetCurrentRotationMember)
			rotationRoutes.POST("/extend", rotationHandler.ExtendRotation)
			rotationRoutes.DELETE("", rotationHandler.DeactivateRotationCycle)
		}

		overrideRoutes := protected.Group("/overrides")
		{
			overrideRoutes.POST("", overrideHandler.CreateOverride)
			overrideRoutes.DELETE("/:overrideId", overrideHandler.DeleteOverride)
		}
	}

	return r
}
