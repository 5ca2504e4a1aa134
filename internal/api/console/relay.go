package console

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hostline/console-server/internal/upstream"
	"github.com/rs/zerolog/log"
)

var controlWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EndpointConsoleTunnel handles the 'GET /ws?session_id={id}&token={token}' endpoint.
// It re-verifies the caller's identity, validates session ownership, consumes the session, dials
// the upstream console WebSocket with the session's credentials and relays frames in both
// directions until either side terminates.
func (service *Service) EndpointConsoleTunnel(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	rawSessionID := query.Get("session_id")
	rawToken := query.Get("token")
	if rawSessionID == "" || rawToken == "" {
		service.error(writer, http.StatusBadRequest, "missing required parameters")
		return
	}

	claims, err := service.Verifier.Verify(request.Context(), rawToken)
	if err != nil {
		log.Warn().Err(err).Msg("rejected console tunnel with invalid bearer token")
		service.error(writer, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := strconv.ParseInt(rawSessionID, 10, 64)
	if err != nil {
		service.error(writer, http.StatusBadRequest, "invalid session")
		return
	}

	ses, err := service.Sessions.Get(request.Context(), sessionID)
	if err != nil {
		service.internalError(writer, err)
		return
	}
	if ses == nil {
		service.error(writer, http.StatusBadRequest, "invalid session")
		return
	}

	// An ownership mismatch must not consume the session; it stays redeemable by its owner
	if ses.UserID != claims.UserID {
		log.Warn().Int64("session_id", ses.ID).Str("user_id", claims.UserID).Msg("rejected console tunnel of foreign session")
		service.error(writer, http.StatusBadRequest, "invalid claim")
		return
	}

	// The session is forfeited from here on; a failed upstream dial requires a re-mint.
	// A concurrent redemption attempt may have consumed it since the ownership check.
	ses, err = service.Sessions.GetAndConsume(request.Context(), sessionID)
	if err != nil {
		service.internalError(writer, err)
		return
	}
	if ses == nil {
		service.error(writer, http.StatusBadRequest, "invalid session")
		return
	}

	header := http.Header{}
	header.Set("Cookie", upstream.AuthCookieName+"="+ses.AuthCookie)
	header.Set(upstream.CSRFTokenHeader, ses.CSRFToken)
	dialer := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{"binary"},
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: service.Config.UpstreamInsecureTLS},
	}

	target := upstream.ConsoleWebSocketURL(service.Config.UpstreamHost, ses.Node, ses.VMID, ses.Port, ses.ConsoleTicket)
	upstreamConn, _, err := dialer.Dial(target, header)
	if err != nil {
		log.Error().Err(err).Int64("session_id", ses.ID).Str("node", ses.Node).Str("vm_id", ses.VMID).Msg("could not dial the upstream console")
		service.error(writer, http.StatusBadGateway, "upstream console unreachable")
		return
	}

	clientConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade has already written the error response
		upstreamConn.Close()
		return
	}

	log.Debug().Int64("session_id", ses.ID).Str("node", ses.Node).Str("vm_id", ses.VMID).Msg("console tunnel established")
	relay(clientConn, upstreamConn)
	log.Debug().Int64("session_id", ses.ID).Msg("console tunnel closed")
}

// relay pumps frames between the two sockets until either direction ends.
// The first direction to end closes both sockets, which unblocks the other pump.
func relay(client, remote *websocket.Conn) {
	errs := make(chan error, 2)
	go func() { errs <- pump(remote, client) }()
	go func() { errs <- pump(client, remote) }()
	<-errs

	client.Close()
	remote.Close()
	<-errs
}

// pump forwards frames from src to dst in their native form.
// Text and binary frames pass through the message loop; ping and close control frames are
// forwarded out-of-band via WriteControl, which may be called concurrently with the peer pump.
func pump(dst, src *websocket.Conn) error {
	src.SetPingHandler(func(data string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(controlWriteTimeout))
	})
	src.SetCloseHandler(func(code int, text string) error {
		message := websocket.FormatCloseMessage(code, text)
		dst.WriteControl(websocket.CloseMessage, message, time.Now().Add(controlWriteTimeout))
		return nil
	})

	for {
		msgType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(msgType, message); err != nil {
			return err
		}
	}
}
