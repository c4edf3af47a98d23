package gateway

import "errors"

// Failure classes for the inbound pipeline. Adapters and the pipeline wrap
// these so callers can branch on the class without parsing messages.
// Admission rejections are not errors: a sender that fails policy checks is
// dropped silently at the adapter with a log line only.
var (
	// ErrCapabilityDisabled: the operation targets a disabled capability
	// (DMs off, groups off, channel disabled).
	ErrCapabilityDisabled = errors.New("capability disabled")

	// ErrMediaFetch: an inbound attachment could not be downloaded or
	// exceeded the byte cap. The turn is dropped without reaching the agent.
	ErrMediaFetch = errors.New("media fetch failed")

	// ErrGeneration: the agent failed to produce a final result. Interim
	// block replies already delivered stand; nothing is retried.
	ErrGeneration = errors.New("reply generation failed")

	// ErrDelivery: at least one outbound send failed after generation.
	ErrDelivery = errors.New("delivery failed")

	// ErrProviderConnection: a provider session dropped or refused to start.
	ErrProviderConnection = errors.New("provider connection failed")
)
