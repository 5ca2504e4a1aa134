package upstream

import (
	"context"
	"fmt"
)

// Header and cookie names of the control plane API
const (
	AuthCookieName  = "PVEAuthCookie"
	CSRFTokenHeader = "CSRFPreventionToken"
)

// ControlTicket represents a short-lived credential authenticating against the control plane's
// management API
type ControlTicket struct {
	Ticket    string
	CSRFToken string
}

// ConsoleTicket represents a ticket, scoped to one VM, authorizing a console session over
// WebSocket together with its one-time password
type ConsoleTicket struct {
	Port     string
	Ticket   string
	Password string
}

// Client defines the ticket exchange against the virtualization control plane
type Client interface {
	// ControlTicket obtains a fresh control ticket using the configured service credentials
	ControlTicket(ctx context.Context) (*ControlTicket, error)

	// ConsoleTicket obtains a console ticket scoped to the given node/VM pair.
	// The upstream is asked to generate a one-time password and to enable the websocket
	// transport variant of the console protocol.
	ConsoleTicket(ctx context.Context, node, vmID string, ct *ControlTicket) (*ConsoleTicket, error)
}

// StatusError represents a non-2xx response of the control plane API
type StatusError struct {
	Status   int
	Endpoint string
}

// Error returns the string representation of the error
func (err *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d on '%s'", err.Status, err.Endpoint)
}
