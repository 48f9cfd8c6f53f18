package handlers

import (
	"aquasync/internal/logger"
	"aquasync/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Device endpoints, addressed by account id
	h.registerDeviceRoutes(router)

	// Dashboard endpoints (protected), account taken from the token
	h.registerAPIRoutes(router)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerDeviceRoutes(r *gin.Engine) {
	dev := r.Group("/api/v1/devices/:account_id")
	{
		// Body example: {"pump_state":"ON","flow_in_L_min":5.0,"flow_out_L_min":4.8,"leakage_detected":false}
		dev.POST("/status", h.reportStatus)
		dev.GET("/command", h.pollCommand)
		dev.POST("/command/ack", h.ackCommand)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.accountMiddleware)
	{
		api.GET("/status", h.getStatus)
		api.GET("/ws", h.wsConnect)
		h.registerCommandRoutes(api)
		h.registerConsumptionRoutes(api)
		h.registerLogRoutes(api)
		api.GET("/alerts", h.listAlerts)
	}
}

func (h *Handler) registerCommandRoutes(api *gin.RouterGroup) {
	cmd := api.Group("/command")
	{
		// Body example: {"action":"ON"}
		cmd.POST("", h.setCommand)
		cmd.POST("/toggle", h.toggleCommand)
		cmd.GET("", h.getCommand)
	}
}

func (h *Handler) registerConsumptionRoutes(api *gin.RouterGroup) {
	c := api.Group("/consumption")
	{
		c.GET("", h.getConsumption)
		c.GET("/summary", h.getConsumptionSummary)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/:category", h.getLogs)
		logs.DELETE("/:category", h.purgeLogs)
	}
}
