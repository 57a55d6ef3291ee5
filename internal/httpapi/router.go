package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/httpapi/handlers"
	"github.com/suPer8Hu/sportlens/internal/httpapi/middleware"
)

func NewRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(a.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(a.Log))

	h := handlers.NewHandler(a)

	r.GET("/ping", h.Ping)
	r.GET("/events", h.StoreEvents)

	// session
	r.GET("/session", h.CurrentSession)
	r.POST("/session", h.SignIn)
	r.DELETE("/session", h.SignOut)

	// chats work signed out too; remote sync is skipped without a session
	r.GET("/chats", h.ListChats)
	r.POST("/chats", h.CreateChat)
	r.GET("/chats/:id", h.GetChat)
	r.PUT("/chats/:id", h.SaveChat)
	r.PATCH("/chats/:id", h.UpdateChat)
	r.DELETE("/chats/:id", h.DeleteChat)
	r.POST("/chats/:id/title", h.RefineTitle)
	r.POST("/chats/:id/messages", h.SendMessage)
	r.POST("/chats/:id/messages/stream", h.SendMessageStream)
	r.GET("/current-chat", h.GetCurrentChat)
	r.PUT("/current-chat", h.SetCurrentChat)

	r.GET("/settings/:feature", h.GetSettings)
	r.PUT("/settings/:feature", h.PutSettings)

	// tasks
	r.GET("/tasks", h.ListTasks)
	r.POST("/tasks", h.CreateTask)
	r.DELETE("/tasks/:id", h.DeleteTask)
	r.PATCH("/guest-tasks/:id", h.UpdateGuestTask)

	authGroup := r.Group("/")
	authGroup.Use(middleware.SessionRequired(a.Sessions))
	authGroup.POST("/sync", h.Sync)
	authGroup.GET("/tasks/:id/result", h.TaskResult)
	authGroup.POST("/tasks/refresh", h.RefreshTasks)
	authGroup.POST("/guest-tasks/migrate", h.MigrateGuestTasks)

	if !a.Cfg.Production {
		dev := r.Group("/dev")
		dev.GET("/mode", h.GetDevMode)
		dev.PUT("/mode", h.SetDevMode)

		inspect := dev.Group("/")
		inspect.Use(h.DevModeRequired())
		inspect.GET("/store", h.ListStoreKeys)
		inspect.GET("/store/:key", h.GetStoreValue)
		inspect.DELETE("/store/:key", h.DeleteStoreValue)
		inspect.POST("/migrate-ids", h.MigrateIDs)
	}
	return r
}
