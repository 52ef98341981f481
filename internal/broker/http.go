package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PublishRequest is the body of POST /publish. An empty room broadcasts to
// every client
type PublishRequest struct {
	Room  string          `json:"room"`
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// NewRouter returns the push server's HTTP surface
func NewRouter(b *Broker, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return logger
		}),
	))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	b.Routes(router)
	return router
}

// Routes registers the websocket endpoint and the publish API
func (b *Broker) Routes(r gin.IRouter) {
	r.GET("/ws", func(c *gin.Context) {
		b.ServeWS(c.Writer, c.Request)
	})
	r.POST("/publish", b.handlePublish)
	r.GET("/rooms", b.handleRooms)
}

func (b *Broker) handlePublish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	var payload any
	if len(req.Data) > 0 {
		payload = req.Data
	}

	var n int
	var err error
	if req.Room == "" {
		n, err = b.Broadcast(req.Event, payload)
	} else {
		n, err = b.Publish(req.Room, req.Event, payload)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}
	c.JSON(http.StatusOK, publishResponse{Delivered: n})
}

func (b *Broker) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clients": b.ClientCount(),
		"rooms":   b.Rooms(),
	})
}
