package middlewares

// gin context keys
const (
	CtxRequestID = "request_id"
	CtxClaims    = "auth.claims"
	CtxAccountID = "auth.accountID"
	CtxRole      = "auth.role"
)
