// Package web exposes the openai compatible surface: chat completions,
// model listing and health. Handlers stay thin; the routing engine owns
// the request lifecycle.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/router"
	"github.com/kubellm/kubellm/internal/telemetry"
	"github.com/kubellm/kubellm/internal/util"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const correlationId string = "correlationId"

type modelsLister interface {
	Models() []string
}

type ProxyServer struct {
	server *http.Server
	log    *zap.Logger
}

func NewProxyServer(log *zap.Logger, mode string, rt *router.Router, ml modelsLister, port string) (*ProxyServer, error) {
	if mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	g := gin.New()
	g.Use(getMiddleware(log, mode == "production"))

	g.GET("/api/health", getHealthCheckHandler())
	g.POST("/v1/chat/completions", getChatCompletionHandler(rt, log))
	g.GET("/v1/models", getModelsHandler(ml))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: g,
	}

	log.Info("POST   /v1/chat/completions is set up for forwarding requests to providers")

	return &ProxyServer{
		server: srv,
		log:    log,
	}, nil
}

func getHealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(http.StatusOK)
	}
}

func getModelsHandler(ml modelsLister) gin.HandlerFunc {
	type model struct {
		Id     string `json:"id"`
		Object string `json:"object"`
	}

	return func(c *gin.Context) {
		models := []model{}
		for _, id := range ml.Models() {
			models = append(models, model{Id: id, Object: "model"})
		}

		c.JSON(http.StatusOK, gin.H{
			"object": "list",
			"data":   models,
		})
	}
}

func getChatCompletionHandler(rt *router.Router, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetString(correlationId)
		lg := log.With(zap.String(correlationId, cid))
		ctx := util.SetLogToCtx(c.Request.Context(), lg)

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			JSON(c, http.StatusBadRequest, "[kubellm] cannot read request body")
			return
		}

		creq := &chat.Request{}
		if err := json.Unmarshal(body, creq); err != nil {
			JSON(c, http.StatusBadRequest, "[kubellm] request body is not valid json")
			return
		}

		if len(creq.Model) == 0 {
			JSON(c, http.StatusBadRequest, "[kubellm] model is required")
			return
		}

		if len(creq.Messages) == 0 {
			JSON(c, http.StatusBadRequest, "[kubellm] messages cannot be empty")
			return
		}

		result, err := rt.Handle(ctx, c.Request, creq, cid)
		if err != nil {
			status, message := mapError(err)
			logRequestError(lg, err)
			JSON(c, status, message)
			return
		}

		if result.Stream == nil {
			c.JSON(http.StatusOK, result.Response)
			return
		}

		writeStream(c, result.Stream, lg)
	}
}

func writeStream(c *gin.Context, s *router.Stream, lg *zap.Logger) {
	defer s.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		chunk, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.SSEvent("", " [DONE]")
				return false
			}

			telemetry.Incr("kubellm.proxy.chat_completions.stream_error", nil, 1)
			logRequestError(lg, err)

			_, message := mapError(err)
			data, merr := json.Marshal(&goopenai.ErrorResponse{
				Error: &goopenai.APIError{
					Type:    "kubellm_error",
					Message: message,
				},
			})
			if merr == nil {
				c.SSEvent("", " "+string(data))
			}

			c.SSEvent("", " [DONE]")
			return false
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			lg.Sugar().Debugf("cannot marshal stream chunk: %v", err)
			return false
		}

		c.SSEvent("", " "+string(data))
		return true
	})
}

func logRequestError(lg *zap.Logger, err error) {
	var validation *internal_errors.ValidationError
	var auth *internal_errors.AuthError

	if errors.As(err, &validation) || errors.As(err, &auth) {
		lg.Sugar().Debugf("request rejected: %v", err)
		return
	}

	lg.Sugar().Infof("request failed: %v", err)
}

func (ps *ProxyServer) Run() {
	go func() {
		ps.log.Info("proxy server listening at " + ps.server.Addr)

		if err := ps.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ps.log.Sugar().Fatalf("error proxy server listening: %v", err)
		}
	}()
}

func (ps *ProxyServer) Shutdown(ctx context.Context) error {
	if err := ps.server.Shutdown(ctx); err != nil {
		ps.log.Sugar().Debugf("error shutting down proxy server: %v", err)
		return err
	}

	return nil
}
