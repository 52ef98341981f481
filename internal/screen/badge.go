package screen

import "fleetdash/internal/channel"

const (
	BadgeConnected    = "Connected"
	BadgeConnecting   = "Connecting"
	BadgeReconnecting = "Reconnecting"
	BadgeDisconnected = "Disconnected"
	BadgeFailed       = "Failed"
)

// Badge returns the connection-status label. A dropped connection reads
// Disconnected until the first reconnect attempt starts
func Badge(st channel.Status) string {
	switch st.State {
	case channel.StateConnected:
		return BadgeConnected
	case channel.StateConnecting:
		return BadgeConnecting
	case channel.StateReconnecting:
		if st.ReconnectAttempts == 0 {
			return BadgeDisconnected
		}
		return BadgeReconnecting
	case channel.StateFailed:
		return BadgeFailed
	default:
		return BadgeDisconnected
	}
}
