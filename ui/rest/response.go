package rest

// ResponseData is the envelope every admin/health endpoint answers with.
// health.go and message.go both write literal {status, code, message,
// results} objects but the struct itself wasn't present anywhere in the
// retrieval pack, so it's reconstructed here from those call sites. The
// webhook ingress in webhook.go deliberately does not use this envelope;
// its contract is the raw {success, message} shape a webhook caller expects.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}
