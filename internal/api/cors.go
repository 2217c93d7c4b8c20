package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// CORS policy for the API. The surface is read plus indication control, so
// only GET and PUT are offered; the permissive origin suits an internal
// management tool.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, PUT, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, Accept"
	corsMaxAge       = "86400"
)

func setCORSHeaders(set func(name, value string)) {
	set("Access-Control-Allow-Origin", corsAllowOrigin)
	set("Access-Control-Allow-Methods", corsAllowMethods)
	set("Access-Control-Allow-Headers", corsAllowHeaders)
	set("Access-Control-Max-Age", corsMaxAge)
}

// corsMiddleware attaches the CORS headers to every API response.
func corsMiddleware(ctx huma.Context, next func(huma.Context)) {
	setCORSHeaders(ctx.SetHeader)
	if ctx.Method() == http.MethodOptions {
		ctx.SetStatus(http.StatusNoContent)
		return
	}
	next(ctx)
}

// registerCORSPreflight answers OPTIONS directly on the mux; huma middleware
// never sees preflight requests because routing rejects them first.
func registerCORSPreflight(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}
