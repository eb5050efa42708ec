package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/camdenward/leadline/internal/control"
	"github.com/camdenward/leadline/internal/dispatch"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/router"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/camdenward/leadline/internal/session"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// routeMessageRequest is the inbound message payload.
type routeMessageRequest struct {
	LeadID      uint              `json:"lead_id" binding:"required"`
	Content     string            `json:"content" binding:"required"`
	MessageType string            `json:"message_type"`
	Metadata    map[string]string `json:"metadata"`
}

func handleRouteMessage(r *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req routeMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := r.Route(req.LeadID, req.Content, req.MessageType, req.Metadata)
		if err != nil {
			writeError(c, err)
			return
		}
		// Policy outcomes (no agent, taken over, escalated) are decisions,
		// not failures: all of them report 200 with the decision payload.
		c.JSON(http.StatusOK, gin.H{
			"session_id":     result.SessionID,
			"message_id":     result.MessageID,
			"created":        result.Created,
			"should_respond": result.ShouldRespond,
			"action":         result.Action,
			"goal":           result.Goal,
		})
	}
}

// dispatchEventRequest carries the event payload fields.
type dispatchEventRequest struct {
	Data map[string]string `json:"data"`
}

func handleDispatchEvent(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatchEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionIDs, err := d.Dispatch(c.Param("type"), req.Data)
		if err != nil {
			writeError(c, err)
			return
		}
		if sessionIDs == nil {
			sessionIDs = []uint{}
		}
		c.JSON(http.StatusOK, gin.H{"session_ids": sessionIDs})
	}
}

// executeTasksRequest optionally caps the batch.
type executeTasksRequest struct {
	BatchSize int `json:"batch_size"`
}

func handleExecuteTasks(q *sequencer.Sequencer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executeTasksRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		report, err := q.ExecuteDueTasks(req.BatchSize)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"executed": report.Executed,
			"failed":   report.Failed,
			"skipped":  report.Skipped,
		})
	}
}

func handleGetSession(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var s models.ConversationSession
		err := db.Preload("Messages").Preload("Tasks").First(&s, id).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// sessionControlRequest covers takeover and end payloads.
type sessionControlRequest struct {
	Actor       string `json:"actor"`
	Reason      string `json:"reason"`
	EscalatedTo string `json:"escalated_to"`
}

func handleTakeover(ctrl *control.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req sessionControlRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := ctrl.Takeover(id, req.Actor, req.Reason); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": models.SessionTakenOver})
	}
}

func handleRelease(ctrl *control.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := ctrl.Release(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": models.SessionActive})
	}
}

func handleEnd(ctrl *control.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req sessionControlRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := ctrl.End(id, req.Reason, req.EscalatedTo); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": models.SessionCompleted})
	}
}

// parseID extracts the :id path parameter, writing 400 on failure.
func parseID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return uint(id), true
}

// writeError maps domain errors to HTTP statuses: missing records are
// 404, illegal transitions are 400, everything else is 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
