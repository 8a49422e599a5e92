package errors

// Kind classifies a failure from an external call. Everything upstream
// (retry policy, step runner, orchestrator) branches only on Kind, never
// on provider-specific error shapes.
type Kind string

const (
	// KindNetwork indicates a connection or timeout failure.
	KindNetwork Kind = "network"
	// KindRateLimit indicates the provider rejected the call for quota reasons.
	KindRateLimit Kind = "rate_limit"
	// KindInvalidInput indicates the request was malformed or rejected by validation.
	KindInvalidInput Kind = "invalid_input"
	// KindTransientServer indicates a provider-side failure expected to clear.
	KindTransientServer Kind = "transient_server"
	// KindPermanent indicates a failure that will not clear on retry
	// (auth rejection, suspended account, unsupported model).
	KindPermanent Kind = "permanent"
	// KindUnknown is anything the classifier does not recognize.
	KindUnknown Kind = "unknown"
)

var retryableKinds = map[Kind]bool{
	KindNetwork:         true,
	KindRateLimit:       true,
	KindTransientServer: true,
	KindUnknown:         true,
	KindInvalidInput:    false,
	KindPermanent:       false,
}

// IsRetryableKind returns true if the kind indicates a retryable failure.
// Unknown is retryable but the policy caps it at a single retry.
func IsRetryableKind(k Kind) bool {
	return retryableKinds[k]
}
