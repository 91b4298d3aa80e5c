package domain

// CandleColor describes the direction of a candle body.
type CandleColor string

const (
	ColorUp   CandleColor = "up"
	ColorDown CandleColor = "down"
	ColorFlat CandleColor = "flat"
	ColorNone CandleColor = "" // open or close missing
)

// ConnState is the lifecycle state of the upstream connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateAwaitingCode ConnState = "awaiting_code" // login suspended on a two-factor code
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed" // last connect attempt exhausted its retry
)

// Credentials identify the upstream account used for login.
type Credentials struct {
	Email    string
	Password string
}

// IsZero reports whether either half of the credential pair is missing.
func (c Credentials) IsZero() bool {
	return c.Email == "" || c.Password == ""
}
