package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/docrag-backend/internal/http/handlers"
	httpMW "github.com/yungbote/docrag-backend/internal/http/middleware"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	serviceName = "docrag-api"
	metricsPath = "/metrics"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	// ExposeMetrics mounts GET /metrics on the API router.
	ExposeMetrics bool

	DocumentHandler  *httpH.DocumentHandler
	RetrievalHandler *httpH.RetrievalHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, metricsPath))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/system/health", cfg.HealthHandler.HealthCheck)
	}
	if cfg.ExposeMetrics && cfg.Metrics != nil {
		r.GET(metricsPath, gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	v1 := r.Group("/v1")
	{
		// Documents
		if cfg.DocumentHandler != nil {
			v1.POST("/documents", cfg.DocumentHandler.Ingest)
			v1.POST("/documents/upload", cfg.DocumentHandler.Upload)
			v1.GET("/documents/status/:task_id", cfg.DocumentHandler.Status)
		}

		// Retrieval
		if cfg.RetrievalHandler != nil {
			v1.POST("/retrieve", cfg.RetrievalHandler.Retrieve)
		}
	}

	return r
}
