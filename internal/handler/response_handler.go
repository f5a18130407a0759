package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/llm"
	"mailagent-go/internal/model"
	"mailagent-go/internal/provider"
	"mailagent-go/internal/reply"
)

// GetResponses returns the reply drafts of an email, generating them on first use
func (h *Handlers) GetResponses(c *gin.Context) {
	id := c.Param("id")
	drafts, err := h.replies.GetOrGenerate(c.Request.Context(), id)
	if err != nil {
		h.replyError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, ResponsesResponse{EmailID: id, Responses: drafts})
}

// InvalidateResponses deletes the unsent drafts of an email
func (h *Handlers) InvalidateResponses(c *gin.Context) {
	deleted, err := h.replies.Invalidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to delete responses")
		return
	}

	c.JSON(http.StatusOK, gin.H{"email_id": c.Param("id"), "deleted": deleted})
}

// RegenerateResponses replaces the unsent drafts of an email with a fresh batch
func (h *Handlers) RegenerateResponses(c *gin.Context) {
	id := c.Param("id")
	drafts, err := h.replies.Regenerate(c.Request.Context(), id)
	if err != nil {
		h.replyError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, ResponsesResponse{EmailID: id, Responses: drafts})
}

// SendReply sends a reply, marks the original as read and records the draft as sent
func (h *Handlers) SendReply(c *gin.Context) {
	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	msg, err := h.store.GetMessage(ctx, id)
	if err != nil {
		h.storeError(c, err, "Failed to fetch email")
		return
	}

	sentID, err := h.provider.Send(ctx, provider.OutgoingMessage{
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		InReplyTo: req.InReplyTo,
		ThreadID:  msg.ThreadID,
	})
	if err != nil {
		logrus.Errorf("Error sending reply to %s: %v", id, err)
		code := http.StatusInternalServerError
		if errors.Is(err, provider.ErrAuth) {
			code = http.StatusUnauthorized
		}
		abort(c, code, "send_error", err.Error())
		return
	}

	if _, err := h.provider.MarkRead(ctx, id); err != nil {
		logrus.Warnf("Failed to mark %s as read at provider: %v", id, err)
	}
	read := model.StatusRead
	if _, err := h.store.UpdateMessage(ctx, id, model.MessageUpdate{Status: &read}); err != nil {
		logrus.Warnf("Failed to update status of %s: %v", id, err)
	}
	if req.ResponseID != nil {
		if _, err := h.replies.MarkSent(ctx, *req.ResponseID); err != nil {
			logrus.Warnf("Failed to mark response %d as sent: %v", *req.ResponseID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent", "message_id": sentID})
}

// ImproveDraft revises a draft according to user feedback
func (h *Handlers) ImproveDraft(c *gin.Context) {
	var req ImproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	msg, err := h.store.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "Failed to fetch email")
		return
	}

	improved := h.replies.Improve(c.Request.Context(), reply.ContextFor(msg), req.Draft, req.Feedback)
	c.JSON(http.StatusOK, gin.H{"improved": improved})
}

func (h *Handlers) replyError(c *gin.Context, id string, err error) {
	logrus.Errorf("Error getting responses for email %s: %v", id, err)
	switch {
	case errors.Is(err, reply.ErrMessageNotFound):
		abort(c, http.StatusNotFound, "not_found", "Email not found")
	case errors.Is(err, llm.ErrTransport):
		abort(c, http.StatusGatewayTimeout, "llm_unavailable", err.Error())
	case errors.Is(err, llm.ErrRejected), errors.Is(err, llm.ErrMalformedResponse):
		abort(c, http.StatusBadGateway, "llm_error", err.Error())
	default:
		abort(c, http.StatusInternalServerError, "generation_error", err.Error())
	}
}
