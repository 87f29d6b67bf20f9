package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/accident-check/internal/detection"
	"github.com/example/accident-check/internal/imagecheck"
	"github.com/example/accident-check/internal/stats"
	"github.com/example/accident-check/internal/usecase"
)

// MaxUploadSize caps accepted image payloads.
const MaxUploadSize = 10 << 20

// multipartOverhead allows for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// webcamSource labels images captured by the browser camera.
const webcamSource = "webcam_capture"

// DetectionService is the subset of the use case the HTTP layer needs.
type DetectionService interface {
	Detect(ctx context.Context, imageBytes []byte, sourceLabel string) (detection.Decision, error)
	History(ctx context.Context) []detection.Decision
	Stats(ctx context.Context) stats.Stats
	ClearHistory(ctx context.Context)
	GetResult(ctx context.Context, id string) (detection.Decision, error)
}

type decisionResponse struct {
	ID               string             `json:"id"`
	PredictedClass   string             `json:"predicted_class"`
	Confidence       float64            `json:"confidence"`
	IsAccident       bool               `json:"is_accident"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
	PredictionTime   float64            `json:"prediction_time"`
	Timestamp        time.Time          `json:"timestamp"`
	Filename         string             `json:"filename"`
}

type base64Request struct {
	Image string `json:"image" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metricsHandler
// may be nil.
func RegisterRoutes(router *gin.Engine, svc DetectionService, metricsHandler http.Handler, logger *zap.Logger) {
	h := &handler{svc: svc, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")
	api.POST("/predict", h.predict)
	api.POST("/predict_base64", h.predictBase64)
	api.GET("/history", h.history)
	api.GET("/stats", h.stats)
	api.POST("/clear_history", h.clearHistory)
	api.GET("/result/:id", h.result)
}

type handler struct {
	svc    DetectionService
	logger *zap.Logger
}

func (h *handler) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image selected"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}
	if !imagecheck.AllowedContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	h.detect(c, data, file.Filename)
}

func (h *handler) predictBase64(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(base64.StdEncoding.EncodedLen(MaxUploadSize)+multipartOverhead))

	var req base64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image data provided"})
		return
	}

	data, err := decodeDataURL(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base64 image data"})
		return
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	h.detect(c, data, webcamSource)
}

func (h *handler) detect(c *gin.Context, data []byte, source string) {
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty image file"})
		return
	}

	info, err := imagecheck.Inspect(data)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image format"})
		return
	}
	h.logger.Debug("image accepted",
		zap.String("source", source),
		zap.String("format", info.Format),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
	)

	decision, err := h.svc.Detect(c.Request.Context(), data, source)
	if err != nil {
		_ = c.Error(err)
		status, message := errorStatus(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, newDecisionResponse(decision))
}

func (h *handler) history(c *gin.Context) {
	entries := h.svc.History(c.Request.Context())
	out := make([]decisionResponse, len(entries))
	for i, d := range entries {
		out[i] = newDecisionResponse(d)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}

func (h *handler) clearHistory(c *gin.Context) {
	h.svc.ClearHistory(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "History cleared successfully"})
}

func (h *handler) result(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	decision, err := h.svc.GetResult(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, usecase.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}

	c.JSON(http.StatusOK, newDecisionResponse(decision))
}

func errorStatus(err error) (int, string) {
	var classErr *detection.ClassificationError
	switch {
	case errors.Is(err, usecase.ErrEmptyImage):
		return http.StatusBadRequest, "Empty image file"
	case errors.Is(err, detection.ErrUnreadableImage):
		return http.StatusUnprocessableEntity, "image could not be read by the classifier"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "classifier timed out"
	case errors.Is(err, detection.ErrInvalidDistribution):
		return http.StatusInternalServerError, "classifier returned an invalid result"
	case errors.As(err, &classErr):
		return http.StatusBadGateway, "classifier unavailable"
	default:
		return http.StatusInternalServerError, "prediction failed"
	}
}

// decodeDataURL accepts either a bare base64 payload or a data URL such as
// "data:image/jpeg;base64,...".
func decodeDataURL(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		_, payload, ok := strings.Cut(value, ",")
		if !ok {
			return nil, errors.New("data url without payload")
		}
		value = payload
	}
	return base64.StdEncoding.DecodeString(value)
}

func newDecisionResponse(d detection.Decision) decisionResponse {
	probabilities := make(map[string]float64, len(d.Probabilities))
	for label, p := range d.Probabilities {
		probabilities[string(label)] = p
	}
	return decisionResponse{
		ID:               d.ID,
		PredictedClass:   string(d.PredictedClass),
		Confidence:       d.Confidence,
		IsAccident:       d.IsAccident,
		AllProbabilities: probabilities,
		PredictionTime:   d.Latency.Seconds(),
		Timestamp:        d.Timestamp,
		Filename:         d.SourceLabel,
	}
}
