package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"studychat/internal/chat"
)

func statusForKind(kind chat.Kind) int {
	switch kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindPermission:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindTransport:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// respondChatError writes the failure of a session call. Transport failures
// happen after the durable write, so they are reported as accepted with a
// warning and body, when non-nil, carries the stored result.
func respondChatError(c *gin.Context, err error, body gin.H) {
	kind := chat.KindOf(err)
	status := statusForKind(kind)

	reason := "internal error"
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		reason = chatErr.Reason()
	}
	log.Printf("http: %s %s failed request_id=%s user_id=%d kind=%s err=%v",
		c.Request.Method, c.FullPath(), requestIDFromContext(c), userIDFromContext(c), kind, err)

	if kind == chat.KindTransport {
		if body == nil {
			body = gin.H{}
		}
		body["warning"] = reason
		c.JSON(status, body)
		return
	}
	c.JSON(status, gin.H{"error": reason})
}
