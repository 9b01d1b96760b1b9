package http

import (
	"net/http"

	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	"github.com/AlibekovAA/crm-realtime/internal/common/httpmetrics"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
)

func BuildBaseHandler(log *logger.Logger, handler http.Handler) http.Handler {
	metrics := httpmetrics.New()
	recovery := RecoveryMiddleware(log)
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)

	return SecurityHeadersMiddleware(recovery(TraceIDMiddleware(maxRequestSize(metrics.Wrap(handler)))))
}
