package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Dashboard     *handler.DashboardHandler
	Teacher       *handler.TeacherHandler
	Monitor       *handler.MonitorHandler
	WS            *handler.WSHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// authLimiter throttles the unauthenticated auth endpoints per client IP.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	authLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Empty AllowedOrigins means every origin is accepted (dev default).
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(middleware.NoStore())
	{
		auth.POST("/register", authLimiter.Middleware(), handlers.Auth.Register)
		auth.POST("/login", authLimiter.Middleware(), handlers.Auth.Login)

		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService, model.RoleStudent),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/dashboard", handlers.Dashboard.GetDashboard)
		studentAPI.GET("/attempts/:attempt_id/results", handlers.StudentPortal.GetResults)

		sess := studentAPI.Group("/tests/:test_id/session")
		{
			sess.POST("", handlers.StudentPortal.StartSession)
			sess.GET("", handlers.StudentPortal.GetSession)
			sess.DELETE("", handlers.StudentPortal.AbandonSession)
			sess.POST("/proctor/:capability", handlers.StudentPortal.ReportCapability)
			sess.POST("/begin", handlers.StudentPortal.Begin)
			sess.POST("/navigate", handlers.StudentPortal.Navigate)
			sess.PUT("/answer", handlers.StudentPortal.SaveAnswer)
			sess.PUT("/answer/match", handlers.StudentPortal.SaveMatch)
			sess.POST("/flags", handlers.StudentPortal.RecordFlag)
			sess.POST("/flags/evidence", handlers.StudentPortal.UploadEvidence)
			sess.POST("/submit", handlers.StudentPortal.Submit)
		}
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService, model.RoleStudent),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/tests/:test_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Teacher Group (JWT, teacher or admin) ──────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService, model.RoleTeacher, model.RoleAdmin),
	)
	{
		teacherAPI.GET("/tests", handlers.Teacher.ListTests)
		teacherAPI.GET("/tests/:id", handlers.Teacher.GetTest)
		teacherAPI.GET("/tests/:id/attempts", handlers.Teacher.ListAttempts)
		teacherAPI.GET("/tests/:id/live", handlers.Teacher.LiveSessions)
		teacherAPI.GET("/tests/:id/monitor", handlers.Monitor.MonitorTestSSE)

		teacherAPI.GET("/attempts/:id/results", handlers.Teacher.GetResults)
		teacherAPI.POST("/attempts/:id/answers/:question_id/grade", handlers.Teacher.GradeAnswer)

		teacherAPI.GET("/evidence", handlers.Teacher.DownloadEvidence)
	}

	// ─── 5. Admin Group (JWT, admin only) ──────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService, model.RoleAdmin),
	)
	{
		adminAPI.POST("/users/:id/reset-session", handlers.Auth.ResetSession)
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
