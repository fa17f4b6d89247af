package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/marcelg7/hayacs-sub004/internal/auth"
)

// NewRouter wires the two HTTP surfaces: the CWMP endpoint behind the
// Digest/Basic authenticator, and the operator task API behind cookie
// sessions.
func NewRouter(
	authenticator *auth.Authenticator,
	acsHandler *ACSHandler,
	taskHandler *TaskHandler,
	consoleAuth *ConsoleAuth,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Nonces bind to the socket peer address; an X-Forwarded-For header
	// supplied by a CPE must not choose the IP for it. A nil list never
	// fails to parse.
	_ = router.SetTrustedProxies(nil)

	router.POST("/acs", authenticator.Middleware(), acsHandler.HandleSession)

	router.POST("/api/v1/console/login", consoleAuth.Login)
	router.POST("/api/v1/console/logout", consoleAuth.Logout)

	authorized := router.Group("/api/v1", consoleAuth.RequireAuth())
	authorized.POST("/tasks", taskHandler.CreateTask)
	authorized.GET("/tasks/:task_id", taskHandler.GetTask)
	authorized.GET("/devices/:device_id/tasks", taskHandler.ListDeviceTasks)
	authorized.DELETE("/tasks/:task_id", taskHandler.CancelTask)
	authorized.POST("/tasks/cancel", taskHandler.BulkCancelTasks)

	return router
}
