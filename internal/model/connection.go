package model

// ConnectionStatus is the state of the streaming session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusFailed       ConnectionStatus = "failed"
)

// Terminal reports whether no further transitions will happen on their own.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusFailed || s == StatusDisconnected
}
