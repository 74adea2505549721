package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/auth"
	"ssepush-lite/internal/handler"
	"ssepush-lite/internal/hub"
	"ssepush-lite/internal/middleware"
	"ssepush-lite/internal/store"
)

type Deps struct {
	Store       *store.Store
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Keys        middleware.AppKeys
	KeepAlive   time.Duration
	Log         logrus.FieldLogger
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Hub == nil {
		deps.Hub = hub.New()
	}

	binding.EnableDecoderUseNumber = true

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	push := r.Group("/push")

	installations := &handler.InstallationHandler{Store: deps.Store, Hub: deps.Hub}
	app := push.Group("/installations")
	app.Use(middleware.RequireApp(deps.Keys))
	app.POST("", installations.Create)
	app.GET("", middleware.RequireMaster(), installations.List)
	app.GET("/:id", installations.Get)
	app.PUT("/:id", installations.Update)
	app.DELETE("/:id", installations.Delete)

	notifications := &handler.NotificationHandler{Store: deps.Store, Hub: deps.Hub}
	push.POST("/notifications", middleware.RequireApp(deps.Keys), middleware.RequireMaster(), notifications.Send)

	streamLimiter := middleware.NewRateLimiter(30, time.Minute)
	stream := &handler.StreamHandler{Store: deps.Store, Hub: deps.Hub, KeepAlive: deps.KeepAlive, Log: deps.Log}
	push.GET("/stream",
		middleware.RateLimitMiddleware(streamLimiter, middleware.StreamUserKey),
		middleware.RequireStreamAuth(deps.TokenConfig),
		stream.Serve,
	)

	return r
}
