package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"techsheet/internal/domain"
	"techsheet/internal/sheet"
)

type PredictRequest struct {
	Item    domain.ProgramItem `json:"item"`
	Context domain.Context     `json:"context"`
}

type PredictResponse struct {
	Phase       string                                   `json:"phase"`
	Predictions map[domain.Field]domain.FieldPrediction `json:"predictions"`
}

type SheetRequest struct {
	RunningOrder  string `json:"runningOrder"`
	IsThirdSunday bool   `json:"isThirdSunday"`
}

// FeedbackRequest carries the item as it was shown, with its ai metadata,
// and the values the user settled on.
type FeedbackRequest struct {
	Item    domain.ProgramItem `json:"item"`
	Values  map[string]string  `json:"values"`
	Context domain.Context     `json:"context"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *Handler) health(c *gin.Context) {
	st := h.learner.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"phase":    st.Phase,
		"ruleOnly": st.RuleOnly,
		"storage":  st.Storage,
	})
}

func (h *Handler) predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Item.Title) == "" {
		badRequest(c, "item.title is required")
		return
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = h.now()
	}
	preds := h.learner.Predict(c.Request.Context(), req.Item, req.Context)
	c.JSON(http.StatusOK, PredictResponse{Phase: h.learner.Phase().String(), Predictions: preds})
}

func (h *Handler) buildSheet(c *gin.Context) {
	var req SheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := sheet.Build(c.Request.Context(), h.learner, req.RunningOrder, req.IsThirdSunday, h.now())
	if errors.Is(err, sheet.ErrEmptyRunningOrder) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Warn("sheet build failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) feedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	values, err := parseValues(req.Values)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(values) == 0 {
		badRequest(c, "values must name at least one field")
		return
	}
	// fields the user left alone confirm what was shown
	final := map[domain.Field]string{}
	if req.Item.AI != nil {
		final = domain.Values(req.Item.AI.Predictions)
	}
	for f, v := range values {
		final[f] = v
	}
	h.learner.LearnFromFeedback(c.Request.Context(), req.Item, nil, final, req.Context)
	c.JSON(http.StatusAccepted, h.learner.Status())
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.learner.Status())
}

func (h *Handler) report(c *gin.Context) {
	c.JSON(http.StatusOK, h.learner.DetailedReport())
}

func parseValues(raw map[string]string) (map[domain.Field]string, error) {
	out := make(map[domain.Field]string, len(raw))
	for k, v := range raw {
		f, ok := domain.ParseField(k)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		out[f] = v
	}
	return out, nil
}
