package console

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hostline/console-server/internal/session"
	"github.com/rs/zerolog/log"
)

type mintSessionRequestPayload struct {
	ServiceID string `json:"service_id"`
}

type mintSessionResponse struct {
	SessionID int64  `json:"session_id"`
	Status    string `json:"status"`
	Password  string `json:"password"`
}

// EndpointMintSession handles the 'POST /api/request/session/id' endpoint.
// It verifies the caller's identity, resolves the requested service to its node/VM coordinates,
// performs the upstream ticket exchange and persists a new single-use session.
// The one-time console password is part of the response only; it cannot be recovered afterwards.
func (service *Service) EndpointMintSession(writer http.ResponseWriter, request *http.Request) {
	// Try to read the 'Authorization' header and verify it is of type 'Bearer'
	header := request.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer") {
		service.error(writer, http.StatusUnauthorized, "unauthorized")
		return
	}
	rawToken := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))

	claims, err := service.Verifier.Verify(request.Context(), rawToken)
	if err != nil {
		log.Warn().Err(err).Msg("rejected session request with invalid bearer token")
		service.error(writer, http.StatusUnauthorized, "unauthorized")
		return
	}

	payload := new(mintSessionRequestPayload)
	if err := json.NewDecoder(request.Body).Decode(payload); err != nil || payload.ServiceID == "" {
		service.error(writer, http.StatusBadRequest, "missing service_id")
		return
	}

	// Resolve the service to its node/VM coordinates, restricted to the verified owner
	svc, err := service.Storage.Services().GetByUserAndID(request.Context(), claims.UserID, payload.ServiceID)
	if err != nil {
		service.internalError(writer, err)
		return
	}
	if svc == nil || !svc.IsPlaced() {
		service.error(writer, http.StatusNotFound, "service not found")
		return
	}

	controlTicket, err := service.Upstream.ControlTicket(request.Context())
	if err != nil {
		log.Error().Err(err).Msg("could not obtain an upstream control ticket")
		service.error(writer, http.StatusBadGateway, "upstream error")
		return
	}

	consoleTicket, err := service.Upstream.ConsoleTicket(request.Context(), svc.Node, svc.VMID, controlTicket)
	if err != nil {
		log.Error().Err(err).Str("node", svc.Node).Str("vm_id", svc.VMID).Msg("could not obtain an upstream console ticket")
		service.error(writer, http.StatusBadGateway, "upstream error")
		return
	}

	ses, err := service.Sessions.Create(request.Context(), &session.Session{
		UserID:         claims.UserID,
		ServiceID:      payload.ServiceID,
		Node:           svc.Node,
		VMID:           svc.VMID,
		AuthCookie:     controlTicket.Ticket,
		CSRFToken:      controlTicket.CSRFToken,
		ConsoleTicket:  consoleTicket.Ticket,
		Port:           consoleTicket.Port,
		ConnectionDate: time.Now().UnixMilli(),
	})
	if err != nil {
		service.internalError(writer, err)
		return
	}

	log.Debug().Int64("session_id", ses.ID).Str("user_id", ses.UserID).Str("node", ses.Node).Str("vm_id", ses.VMID).Msg("minted console session")

	response, _ := json.Marshal(&mintSessionResponse{
		SessionID: ses.ID,
		Status:    "200",
		Password:  consoleTicket.Password,
	})
	writer.WriteHeader(http.StatusOK)
	writer.Write(response)
}
