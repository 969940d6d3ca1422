package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/handler"
	"github.com/kentpulse/kentpulse-api/internal/middleware"
	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	"github.com/kentpulse/kentpulse-api/internal/service"
	"github.com/kentpulse/kentpulse-api/pkg/config"
	"github.com/kentpulse/kentpulse-api/pkg/logger"
	corsmiddleware "github.com/kentpulse/kentpulse-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kentpulse/kentpulse-api/pkg/middleware/requestid"
)

// Dependencies carries everything the route table needs.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	UserRepo  *repository.UserRepository
	Auth      *service.AuthService
	Users     *service.UserService
	Issues    *service.IssueService
	Dashboard *service.DashboardService
	Exports   *service.ExportService
	Reports   *service.ReportService
	Metrics   *service.MetricsService
}

// New builds the gin engine with the full API surface mounted.
func New(deps Dependencies) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	authHandler := handler.NewAuthHandler(deps.Auth)
	userHandler := handler.NewUserHandler(deps.Users)
	issueHandler := handler.NewIssueHandler(deps.Issues, deps.Metrics)
	dashboardHandler := handler.NewDashboardHandler(deps.Dashboard, deps.Exports)
	metricsHandler := handler.NewMetricsHandler(deps.Metrics)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.Config.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(deps.Auth))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	issues := api.Group("/issues")
	{
		// Reads are public; an optional token upgrades the visibility scope.
		public := issues.Group("", middleware.OptionalJWT(deps.Auth))
		public.GET("", issueHandler.List)
		public.GET("/nearby", issueHandler.Nearby)
		public.GET("/:id", issueHandler.Get)
		public.GET("/:id/updates", issueHandler.ListUpdates)
		public.GET("/:id/comments", issueHandler.ListComments)

		authed := issues.Group("", middleware.JWT(deps.Auth))
		authed.POST("", issueHandler.Create)
		authed.GET("/mine", issueHandler.ListMine)
		authed.PATCH("/:id", issueHandler.Update)
		authed.DELETE("/:id", issueHandler.Delete)
		authed.POST("/:id/upvote", issueHandler.Upvote)
		authed.POST("/:id/comments", issueHandler.Comment)

		staff := authed.Group("", middleware.RequireStaff())
		staff.POST("/:id/status", issueHandler.ChangeStatus)
		staff.POST("/:id/photos", issueHandler.AddProgressPhoto)

		triage := authed.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleMunicipalWorker))
		triage.POST("/:id/assign", issueHandler.Assign)
		triage.POST("/:id/responses", issueHandler.Respond)
	}

	api.POST("/comments/:id/like", middleware.JWT(deps.Auth), issueHandler.LikeComment)

	// Role-pinned listing aliases. The service applies the same
	// visibility scope either way; these give each console a stable path.
	api.GET("/admin/issues", middleware.JWT(deps.Auth), middleware.RequireRoles(models.RoleAdmin), issueHandler.List)
	municipal := api.Group("/municipal", middleware.JWT(deps.Auth), middleware.RequireRoles(models.RoleMunicipalWorker))
	{
		municipal.GET("/issues", issueHandler.List)
		municipal.POST("/issues/:id/assign", issueHandler.Assign)
	}
	api.GET("/worker/issues", middleware.JWT(deps.Auth), middleware.RequireRoles(models.RoleFieldWorker), issueHandler.List)

	if deps.Config.Dashboard.Enabled {
		dashboard := api.Group("/dashboard", middleware.JWT(deps.Auth),
			middleware.RequireRoles(models.RoleAdmin, models.RoleMunicipalWorker))
		dashboard.GET("/summary", dashboardHandler.Summary)
		dashboard.GET("/export", dashboardHandler.Export)
	}

	if deps.Config.Reports.Enabled && deps.Reports != nil {
		reportHandler := handler.NewReportHandler(deps.Reports)

		// Download is authenticated by the signed token itself.
		api.GET("/reports/download/:token", reportHandler.Download)

		reports := api.Group("/reports", middleware.JWT(deps.Auth),
			middleware.RequireRoles(models.RoleAdmin, models.RoleMunicipalWorker))
		reports.POST("", reportHandler.Create)
		reports.GET("", reportHandler.List)
		reports.GET("/:id", reportHandler.Status)
	}

	admin := api.Group("/admin", middleware.JWT(deps.Auth), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/metrics", metricsHandler.Snapshot)

		users := admin.Group("/users", middleware.Audit(deps.UserRepo, "user_admin", "users"))
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
	}

	return r
}
