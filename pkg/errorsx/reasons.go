package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigInvalid  ReasonCode = "config_invalid"
	ReasonConfigMissing  ReasonCode = "config_missing_field"
	ReasonConfigProvider ReasonCode = "config_unsupported_provider"

	ReasonAuthRejected ReasonCode = "auth_rejected"
	ReasonAuthExpired  ReasonCode = "auth_expired"
	ReasonTokenFetch   ReasonCode = "token_fetch"

	ReasonUpstreamStatus  ReasonCode = "upstream_status"
	ReasonUpstreamPayload ReasonCode = "upstream_payload"

	ReasonTransportDial    ReasonCode = "transport_dial"
	ReasonTransportSend    ReasonCode = "transport_send"
	ReasonTransportClosed  ReasonCode = "transport_closed"
	ReasonSignalingFailure ReasonCode = "signaling_failure"

	ReasonBillingInsufficient ReasonCode = "billing_insufficient_balance"
	ReasonBillingFrozen       ReasonCode = "billing_wallet_frozen"

	ReasonCodecDecode ReasonCode = "codec_decode"
	ReasonCodecEncode ReasonCode = "codec_encode"

	ReasonSessionState ReasonCode = "session_state"
)

// fatal reasons terminate the session; mid-stream upstream errors do not.
var fatalReasons = map[ReasonCode]bool{
	ReasonAuthRejected:        true,
	ReasonAuthExpired:         true,
	ReasonTransportDial:       true,
	ReasonTransportClosed:     true,
	ReasonSignalingFailure:    true,
	ReasonBillingInsufficient: true,
	ReasonBillingFrozen:       true,
}

// IsFatal reports whether err carries a reason that must terminate the session.
func IsFatal(err error) bool {
	return fatalReasons[Reason(err)]
}

// IsBilling reports whether err is a wallet-originated failure.
func IsBilling(err error) bool {
	r := Reason(err)
	return r == ReasonBillingInsufficient || r == ReasonBillingFrozen
}

// IsConfig reports whether err was raised before any network I/O.
func IsConfig(err error) bool {
	switch Reason(err) {
	case ReasonConfigInvalid, ReasonConfigMissing, ReasonConfigProvider:
		return true
	}
	return false
}
