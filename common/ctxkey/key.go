package ctxkey

const (
	// KeyRequestBody caches the raw inbound request body so handlers and the
	// retry loop can re-read it after the first consumption.
	// Set in: common.GetRequestBody. Read in: controllers and retry paths.
	KeyRequestBody = "key_request_body"

	// ClientRequestPayloadLogged marks that the inbound payload has already
	// been logged for this request, preventing duplicate debug entries.
	ClientRequestPayloadLogged = "client_request_payload_logged"

	// Meta holds the per-request *meta.Meta built from the parsed request.
	// Set in: meta.GetByContext on first access.
	Meta = "meta"

	// RequestModel is the model name exactly as the client sent it, including
	// behavior suffixes such as -search or -non-thinking.
	// Set in: relay controllers after parsing the request.
	RequestModel = "request_model"

	// SelectedKey is the upstream credential chosen for the current attempt,
	// stored so failure accounting can rotate the right key.
	SelectedKey = "selected_key"

	// TokenEstimate is the pre-flight token estimate for the current request.
	TokenEstimate = "token_estimate"
)
