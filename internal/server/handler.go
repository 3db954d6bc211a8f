package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/envelope"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/pipeline"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/api"
	"github.com/gin-gonic/gin"
)

// Handler exposes the served models over the v1 and v2 REST routes.
type Handler struct {
	models map[string]*pipeline.Orchestrator
}

func NewHandler(orchestrators ...*pipeline.Orchestrator) *Handler {
	models := make(map[string]*pipeline.Orchestrator, len(orchestrators))
	for _, o := range orchestrators {
		models[o.Unit().Name()] = o
	}
	return &Handler{models: models}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health/self", func(c *gin.Context) {
		c.String(http.StatusOK, "true")
	})
	r.GET("/v2/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"live": true})
	})

	v1 := r.Group("/v1/models")
	v1.GET("", h.listModels)
	v1.GET("/:name", h.modelReady)
	v1.POST("/:name", h.v1Infer)

	v2 := r.Group("/v2/models/:name")
	v2.GET("/ready", h.modelReady)
	v2.POST("/infer", h.invoke(serving.Predictor))
	v2.POST("/explain", h.invoke(serving.Explainer))
}

func (h *Handler) listModels(c *gin.Context) {
	names := make([]string, 0, len(h.models))
	for name := range h.models {
		names = append(names, name)
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"models": names})
}

func (h *Handler) modelReady(c *gin.Context) {
	o, ok := h.lookup(c, c.Param("name"))
	if !ok {
		return
	}
	ready := o.Unit().Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"name": o.Unit().Name(), "ready": ready})
}

// v1Infer serves POST /v1/models/<name>:predict and /v1/models/<name>:explain.
func (h *Handler) v1Infer(c *gin.Context) {
	name, verb, found := strings.Cut(c.Param("name"), ":")
	if !found {
		_ = c.Error(api.NewNotFoundError("unsupported verb, expected :predict or :explain"))
		return
	}
	switch verb {
	case "predict":
		h.serve(c, name, serving.Predictor)
	case "explain":
		h.serve(c, name, serving.Explainer)
	default:
		_ = c.Error(api.NewNotFoundError("unsupported verb " + verb))
	}
}

func (h *Handler) invoke(op serving.OperationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serve(c, c.Param("name"), op)
	}
}

func (h *Handler) serve(c *gin.Context, name string, op serving.OperationKind) {
	o, ok := h.lookup(c, name)
	if !ok {
		return
	}
	if !o.Unit().Ready() {
		_ = c.Error(api.NewServiceUnavailableError("Model with name " + name + " is not ready."))
		return
	}
	env, err := envelope.FromHTTPRequest(c.Request)
	if err != nil {
		_ = c.Error(errors.ToAPIError(err))
		return
	}
	out, err := o.Invoke(c.Request.Context(), env, op)
	if err != nil {
		_ = c.Error(errors.ToAPIError(err))
		return
	}
	render(c, out)
}

func (h *Handler) lookup(c *gin.Context, name string) (*pipeline.Orchestrator, bool) {
	o, ok := h.models[name]
	if !ok {
		_ = c.Error(api.NewNotFoundError("Model with name " + name + " does not exist."))
	}
	return o, ok
}

func render(c *gin.Context, p payload.Payload) {
	if p.Kind == payload.KindBytes {
		c.Data(http.StatusOK, "application/octet-stream", p.Bytes)
		return
	}
	c.JSON(http.StatusOK, p.Value())
}
