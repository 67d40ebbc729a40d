package middlewares

// Gin context keys set by the middlewares in this package.
const (
	CtxRequestID = "request_id"
	ctxSubject   = "auth.subject"
	ctxRole      = "auth.role"
)
