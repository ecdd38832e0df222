package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sotakn/campus-timetable-api/api/swagger"
	"github.com/sotakn/campus-timetable-api/internal/handler"
	"github.com/sotakn/campus-timetable-api/internal/middleware"
	"github.com/sotakn/campus-timetable-api/internal/repository"
	"github.com/sotakn/campus-timetable-api/internal/service"
	"github.com/sotakn/campus-timetable-api/pkg/cache"
	"github.com/sotakn/campus-timetable-api/pkg/config"
	"github.com/sotakn/campus-timetable-api/pkg/database"
	"github.com/sotakn/campus-timetable-api/pkg/export"
	"github.com/sotakn/campus-timetable-api/pkg/logger"
	corsmiddleware "github.com/sotakn/campus-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sotakn/campus-timetable-api/pkg/middleware/requestid"
)

// @title Campus Timetable API
// @version 1.0.0
// @description Class schedule generation and attendance accounting service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	// Redis is optional: a cold cache only costs calendar round-trips.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, calendar snapshot cache disabled", "error", err)
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	calendarRepo := repository.NewCalendarRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	classDateRepo := repository.NewClassDateRepository(db)

	cacheEnabled := cfg.Calendar.CacheEnabled && redisClient != nil
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Calendar.CacheTTL, logr, cacheEnabled)

	calendarSvc := service.NewCalendarService(calendarRepo, cacheSvc, logr)
	timetableSvc := service.NewTimetableService(
		courseRepo,
		classDateRepo,
		calendarSvc,
		db,
		validate,
		logr,
		metricsSvc,
		service.TimetableConfig{
			ProposalTTL:             cfg.Scheduler.ProposalTTL,
			RecommendedAbsenceRatio: cfg.Attendance.RecommendedAbsenceRatio,
		},
	)
	attendanceSvc := service.NewAttendanceService(classDateRepo, courseRepo, validate, logr)
	exportSvc := service.NewExportService(courseRepo, classDateRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	courseHandler := handler.NewCourseHandler(timetableSvc, attendanceSvc, exportSvc)
	classDateHandler := handler.NewClassDateHandler(attendanceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))
	{
		api.GET("/calendar/terms", calendarHandler.Terms)

		api.POST("/courses", courseHandler.Create)
		api.GET("/courses", courseHandler.List)
		api.GET("/courses/:id", courseHandler.Get)
		api.PUT("/courses/:id", courseHandler.Update)
		api.DELETE("/courses/:id", courseHandler.Delete)

		api.POST("/courses/:id/schedule/preview", courseHandler.PreviewSchedule)
		api.POST("/courses/:id/schedule/apply", courseHandler.ApplySchedule)
		api.POST("/courses/:id/schedule/unlock", courseHandler.Unlock)
		api.GET("/courses/:id/class-dates", courseHandler.ClassDates)

		api.GET("/courses/:id/attendance/summary", courseHandler.AttendanceSummary)
		if cfg.Exports.Enabled {
			api.GET("/courses/:id/attendance/export", courseHandler.Export)
		}

		api.PUT("/class-dates/:id/attendance", classDateHandler.MarkAttendance)
		api.PUT("/class-dates/:id", classDateHandler.Update)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
