package session

// Session represents a single-use console session.
// It binds the user that requested it to the console endpoint of one specific VM together with the
// upstream credentials needed to open that console. A session is redeemable at most once.
type Session struct {
	ID             int64
	UserID         string
	ServiceID      string
	Node           string
	VMID           string
	AuthCookie     string
	CSRFToken      string
	ConsoleTicket  string
	Password       string
	Port           string
	ConnectionDate int64
}
