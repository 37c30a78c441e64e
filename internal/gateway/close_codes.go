package gateway

import "errors"

// CloseCode is a WebSocket close status code. The gateway uses the standard 1000-series codes from RFC 6455 plus the
// IANA-registered 3000 for authentication failures.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002
	CloseUnsupported     CloseCode = 1003
	CloseInvalidPayload  CloseCode = 1007
	ClosePolicyViolation CloseCode = 1008
	CloseTooLarge        CloseCode = 1009
	CloseServerError     CloseCode = 1011
	CloseServiceRestart  CloseCode = 1012
	CloseTryAgainLater   CloseCode = 1013
	CloseBadGateway      CloseCode = 1014
	CloseAuthFailure     CloseCode = 3000
)

// Close reasons reused across the pipeline. The identify table in the handshake uses these verbatim.
const (
	ReasonIdentifyExpected  = "IDENTIFY expected"
	ReasonUnsupportedFrame  = "Unsupported message encoding"
	ReasonInvalidIdentify   = "Invalid IDENTIFY payload"
	ReasonInvalidToken      = "Invalid token"
	ReasonUnknownUser       = "No user belongs to token"
	ReasonGatewayRestarting = "Gateway is restarting"
	ReasonHeartbeatExpired  = "No HEARTBEAT received within timeframe"
	ReasonShuttingDown      = "Server shutting down"
	ReasonAlreadyIdentified = "Duplicate IDENTIFY"
	ReasonOnboardingFailed  = "Failed to load onboarding payload"
)

// Sentinel errors for the gateway package.
var (
	ErrSessionClosed = errors.New("session send queue is closed")
	ErrNotRunning    = errors.New("dispatcher is not running")
	ErrNotReady      = errors.New("dispatcher is not bound to its collaborators")
	ErrSubClosed     = errors.New("subscription closed")
)

// CloseNotice is the close sentinel enqueued on a session's outbound sink. The send loop writes the corresponding
// close frame and terminates with the carried code.
type CloseNotice struct {
	Code   CloseCode
	Reason string
}
