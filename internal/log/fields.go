package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldChannel   = "channel"
	FieldMessageID = "message_id"

	// Verification
	FieldSessionID = "session_id"

	FieldService = "service"
)

const headerRequestID = "X-Request-ID"
