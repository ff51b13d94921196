// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// Service errors implement HTTPError and are rendered with WriteServiceError:
//
//	if err != nil {
//		httputil.WriteServiceError(w, err)
//		return
//	}
//
// Path and query parameters that carry ids are parsed as UUIDs:
//
//	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
//
// Middleware composes with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
