package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/logging"
)

// requestContext tags r's context with the operator and, when the route
// names one, the import session.
func requestContext(r *http.Request, sessionID string) context.Context {
	ctx := core.ContextWithOperator(r.Context(), clientIP(r), r.UserAgent())
	return logging.WithSession(ctx, sessionID)
}
