package transmission

import "github.com/jkaberg/jkbms-reactor/internal/panel"

// Transmitter defines the interface for transmitting panel data
type Transmitter interface {
	Transmit(v *panel.View) error
	IsConnected() bool
}
