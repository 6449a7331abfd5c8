package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/config"
	"github.com/telecrm/backend/internal/http/handlers"
	"github.com/telecrm/backend/internal/http/middleware"
	"github.com/telecrm/backend/internal/importer"
	"github.com/telecrm/backend/internal/metrics"
	"github.com/telecrm/backend/internal/service"

	_ "github.com/telecrm/backend/docs"
)

func Router(cfg config.Config, store handlers.Store, engine *service.Engine, authSvc *auth.Service, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(metrics.Middleware())
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	v := validator.New()
	h := &handlers.Handler{
		Store:          store,
		Engine:         engine,
		Auth:           authSvc,
		Importer:       importer.NewParser(v),
		Validator:      v,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadSizeMB << 20,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.Use(middleware.Timeout(cfg.RequestTimeout))
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
	}

	authed := api.Group("")
	authed.Use(middleware.Authenticate(authSvc, logger))
	{
		authed.POST("/logout", h.Logout)
		authed.GET("/me", h.Me)

		authed.GET("/users", middleware.Require(auth.OpListUsers), h.Users)
		authed.GET("/stats", middleware.Require(auth.OpStats), h.Stats)

		authed.GET("/students", middleware.Require(auth.OpListLeads), h.ListStudents)
		authed.POST("/students", middleware.Require(auth.OpCreateLead), h.CreateStudent)
		authed.PUT("/students/:id", middleware.Require(auth.OpUpdateLead, auth.OpUpdateStatus), h.UpdateStudent)
		authed.DELETE("/students/:id", middleware.Require(auth.OpDeleteLead), h.DeleteStudent)
		authed.GET("/assigned-students", middleware.Require(auth.OpViewAssigned), h.AssignedStudents)

		authed.POST("/upload-excel", middleware.Require(auth.OpUploadLeads), h.UploadExcel)
		authed.GET("/sample-excel", middleware.Require(auth.OpSampleTemplate), h.SampleExcel)

		authed.POST("/assign-automated", middleware.Require(auth.OpAssign), h.AssignAutomated)
		authed.POST("/assign-manual", middleware.Require(auth.OpAssign), h.AssignManual)
		authed.POST("/assign-bulk", middleware.Require(auth.OpAssign), h.AssignBulk)
		authed.POST("/reassign", middleware.Require(auth.OpAssign), h.Reassign)
		authed.POST("/unassign-student", middleware.Require(auth.OpUnassign), h.UnassignStudent)
		authed.POST("/unassign-students-bulk", middleware.Require(auth.OpUnassign), h.UnassignStudentsBulk)
		authed.POST("/unassign-pending", middleware.Require(auth.OpUnassign), h.UnassignPending)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
