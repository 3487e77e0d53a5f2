package http

import (
	"log"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"docqa/internal/bootstrap"
	"docqa/internal/transport/http/handler"
	"docqa/internal/transport/http/middleware"
	"docqa/internal/transport/http/response"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.CustomRecovery(recoverJSON), middleware.CORS(app.Config.App.CORSOrigins))

	maxUpload := int64(app.Config.Ingest.MaxUploadMB) << 20
	router.MaxMultipartMemory = maxUpload

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", filepath.Join(app.Config.App.WebRoot, "index.html"))
	router.GET("/healthz", healthHandler.Check)

	docqaHandler := handler.NewDocQAHandler(app.DocQA, maxUpload)

	api := router.Group("/")
	if app.Config.Auth.JWTSecret != "" {
		api.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	}
	api.POST("/process_document", docqaHandler.ProcessDocument)
	api.POST("/process_url", docqaHandler.ProcessURL)
	api.POST("/query", docqaHandler.Query)
	api.GET("/collections", docqaHandler.Collections)

	return router
}

func recoverJSON(c *gin.Context, recovered any) {
	log.Printf("panic recovered: %v", recovered)
	response.Error(c, http.StatusInternalServerError, "internal server error")
	c.Abort()
}
