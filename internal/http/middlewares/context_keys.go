package middlewares

// gin context keys
const (
	CtxRequestID = "request_id"
	CtxClaims    = "auth.claims"
	CtxPrincipal = "auth.principal"
)
