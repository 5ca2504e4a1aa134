package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hostline/console-server/internal/auth"
	"github.com/hostline/console-server/internal/config"
	"github.com/hostline/console-server/internal/service"
	"github.com/hostline/console-server/internal/session"
	"github.com/hostline/console-server/internal/session/storage/inmem"
	"github.com/hostline/console-server/internal/upstream"
)

type fakeVerifier struct {
	calls  int
	tokens map[string]string
}

func (verifier *fakeVerifier) Verify(_ context.Context, rawToken string) (*auth.Claims, error) {
	verifier.calls++
	userID, ok := verifier.tokens[rawToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &auth.Claims{UserID: userID}, nil
}

type fakeRepository struct {
	calls    int
	services map[string]*service.Service
}

func (repo *fakeRepository) GetByUserAndID(_ context.Context, userID, serviceID string) (*service.Service, error) {
	repo.calls++
	return repo.services[userID+"/"+serviceID], nil
}

type fakeDriver struct {
	services *fakeRepository
}

func (driver *fakeDriver) Initialize(context.Context) error { return nil }
func (driver *fakeDriver) Services() service.Repository     { return driver.services }
func (driver *fakeDriver) Close()                           {}

type fakeTicketClient struct {
	controlCalls int
	consoleCalls int
	fail         bool
}

func (client *fakeTicketClient) ControlTicket(context.Context) (*upstream.ControlTicket, error) {
	client.controlCalls++
	if client.fail {
		return nil, &upstream.StatusError{Status: http.StatusUnauthorized, Endpoint: "/api2/json/access/ticket"}
	}
	return &upstream.ControlTicket{Ticket: "PVE:ticket", CSRFToken: "csrf-token"}, nil
}

func (client *fakeTicketClient) ConsoleTicket(_ context.Context, node, vmID string, _ *upstream.ControlTicket) (*upstream.ConsoleTicket, error) {
	client.consoleCalls++
	if client.fail {
		return nil, &upstream.StatusError{Status: http.StatusInternalServerError, Endpoint: "/vncproxy"}
	}
	return &upstream.ConsoleTicket{Port: "5900", Ticket: "PVEVNC:ticket", Password: "one-time-pass"}, nil
}

type testEnv struct {
	server   *httptest.Server
	verifier *fakeVerifier
	repo     *fakeRepository
	tickets  *fakeTicketClient
	sessions session.Storage
}

func newTestEnv(t *testing.T, upstreamHost string) *testEnv {
	t.Helper()

	sessions, err := inmem.New(time.Minute)
	if err != nil {
		t.Fatalf("could not create session store: %v", err)
	}

	verifier := &fakeVerifier{tokens: map[string]string{
		"alice-token": "user-alice",
		"bob-token":   "user-bob",
	}}
	repo := &fakeRepository{services: map[string]*service.Service{
		"user-alice/svc-1": {ID: "svc-1", UserID: "user-alice", Node: "node1", VMID: "100"},
		"user-alice/svc-2": {ID: "svc-2", UserID: "user-alice"},
	}}
	tickets := &fakeTicketClient{}

	svc := &Service{
		Config: &config.Config{
			AllowedOrigin:       "*",
			UpstreamHost:        upstreamHost,
			UpstreamInsecureTLS: true,
		},
		Storage:  &fakeDriver{services: repo},
		Sessions: sessions,
		Verifier: verifier,
		Upstream: tickets,
	}
	server := httptest.NewServer(svc.router())
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		verifier: verifier,
		repo:     repo,
		tickets:  tickets,
		sessions: sessions,
	}
}

func (env *testEnv) mint(t *testing.T, token, serviceID string) (int, *mintSessionResponse) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"service_id": serviceID})
	request, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/request/session/id", bytes.NewReader(body))
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("mint request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return response.StatusCode, nil
	}
	payload := new(mintSessionResponse)
	if err := json.NewDecoder(response.Body).Decode(payload); err != nil {
		t.Fatalf("could not decode mint response: %v", err)
	}
	return response.StatusCode, payload
}

func (env *testEnv) tunnelStatus(t *testing.T, sessionID, token string) int {
	t.Helper()

	response, err := http.Get(env.server.URL + "/ws?session_id=" + sessionID + "&token=" + token)
	if err != nil {
		t.Fatalf("tunnel request failed: %v", err)
	}
	response.Body.Close()
	return response.StatusCode
}

func wsURL(server *httptest.Server, sessionID int64, token string) string {
	base := "ws" + strings.TrimPrefix(server.URL, "http")
	return base + "/ws?session_id=" + strconv.FormatInt(sessionID, 10) + "&token=" + token
}

// newEchoUpstream spins up a TLS WebSocket server that mimics the upstream console endpoint:
// it validates the session-scoped credentials, echoes every frame and reports when its read
// loop has ended.
func newEchoUpstream(t *testing.T) (host string, done chan struct{}) {
	t.Helper()

	echoUpgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	done = make(chan struct{})

	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Cookie") != "PVEAuthCookie=PVE:ticket" {
			t.Errorf("upstream dial without auth cookie: %s", request.Header.Get("Cookie"))
		}
		if request.Header.Get("CSRFPreventionToken") != "csrf-token" {
			t.Errorf("upstream dial without CSRF token: %s", request.Header.Get("CSRFPreventionToken"))
		}

		conn, err := echoUpgrader.Upgrade(writer, request, nil)
		if err != nil {
			t.Errorf("could not upgrade upstream connection: %v", err)
			return
		}
		defer conn.Close()
		for {
			msgType, message, err := conn.ReadMessage()
			if err != nil {
				close(done)
				return
			}
			if err := conn.WriteMessage(msgType, message); err != nil {
				close(done)
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return strings.TrimPrefix(server.URL, "https://"), done
}

func TestMintSession(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	status, payload := env.mint(t, "alice-token", "svc-1")
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	if payload.Status != "200" {
		t.Errorf("expected payload status '200', got '%s'", payload.Status)
	}
	if payload.Password != "one-time-pass" {
		t.Errorf("expected the one-time password in the response, got '%s'", payload.Password)
	}

	stored, err := env.sessions.Get(context.Background(), payload.SessionID)
	if err != nil {
		t.Fatalf("could not get stored session: %v", err)
	}
	if stored == nil {
		t.Fatal("expected the minted session to be stored")
	}
	if stored.UserID != "user-alice" {
		t.Errorf("expected the session to be owned by the verified user, got '%s'", stored.UserID)
	}
	if stored.Node != "node1" || stored.VMID != "100" || stored.Port != "5900" {
		t.Errorf("unexpected session coordinates: %+v", stored)
	}
	if stored.AuthCookie != "PVE:ticket" || stored.CSRFToken != "csrf-token" || stored.ConsoleTicket != "PVEVNC:ticket" {
		t.Errorf("unexpected session credentials: %+v", stored)
	}
	if stored.Password != "" {
		t.Error("expected the stored session to carry no password")
	}
	if env.tickets.controlCalls != 1 || env.tickets.consoleCalls != 1 {
		t.Errorf("expected exactly one ticket exchange, got %d/%d", env.tickets.controlCalls, env.tickets.consoleCalls)
	}
}

func TestMintSessionUnauthorized(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	if status, _ := env.mint(t, "", "svc-1"); status != http.StatusUnauthorized {
		t.Errorf("expected status 401 without Authorization header, got %d", status)
	}
	if env.verifier.calls != 0 {
		t.Errorf("expected no verifier call without Authorization header, got %d", env.verifier.calls)
	}

	if status, _ := env.mint(t, "invalid-token", "svc-1"); status != http.StatusUnauthorized {
		t.Errorf("expected status 401 for an invalid token, got %d", status)
	}

	if env.repo.calls != 0 {
		t.Errorf("expected no directory lookup, got %d", env.repo.calls)
	}
	if env.tickets.controlCalls != 0 {
		t.Errorf("expected no upstream calls, got %d", env.tickets.controlCalls)
	}
	if got, _ := env.sessions.Get(context.Background(), 1); got != nil {
		t.Error("expected no session to be stored")
	}
}

func TestMintSessionMissingServiceID(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	status, _ := env.mint(t, "alice-token", "")
	if status != http.StatusBadRequest {
		t.Errorf("expected status 400 without service_id, got %d", status)
	}
	if env.tickets.controlCalls != 0 {
		t.Error("expected no upstream calls for an invalid request")
	}
}

func TestMintSessionUnknownService(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	if status, _ := env.mint(t, "alice-token", "svc-unknown"); status != http.StatusNotFound {
		t.Errorf("expected status 404 for an unknown service, got %d", status)
	}
	// svc-2 exists but has never been placed on a hypervisor
	if status, _ := env.mint(t, "alice-token", "svc-2"); status != http.StatusNotFound {
		t.Errorf("expected status 404 for an unplaced service, got %d", status)
	}
	// svc-1 is owned by alice, not bob
	if status, _ := env.mint(t, "bob-token", "svc-1"); status != http.StatusNotFound {
		t.Errorf("expected status 404 for a foreign service, got %d", status)
	}

	if env.tickets.controlCalls != 0 {
		t.Error("expected no upstream calls for unresolvable services")
	}
}

func TestMintSessionUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")
	env.tickets.fail = true

	status, _ := env.mint(t, "alice-token", "svc-1")
	if status != http.StatusBadGateway {
		t.Errorf("expected status 502 on upstream failure, got %d", status)
	}
	if got, _ := env.sessions.Get(context.Background(), 1); got != nil {
		t.Error("expected no session to be stored on upstream failure")
	}
}

func TestTunnelMissingParameters(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	if status := env.tunnelStatus(t, "", "alice-token"); status != http.StatusBadRequest {
		t.Errorf("expected status 400 without session_id, got %d", status)
	}
	if status := env.tunnelStatus(t, "1", ""); status != http.StatusBadRequest {
		t.Errorf("expected status 400 without token, got %d", status)
	}
	if env.verifier.calls != 0 {
		t.Errorf("expected no verification before parameter validation, got %d calls", env.verifier.calls)
	}
}

func TestTunnelInvalidToken(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	if status := env.tunnelStatus(t, "1", "invalid-token"); status != http.StatusUnauthorized {
		t.Errorf("expected status 401 for an invalid token, got %d", status)
	}
}

func TestTunnelUnknownSession(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	if status := env.tunnelStatus(t, "999", "alice-token"); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for an unknown session, got %d", status)
	}
	if status := env.tunnelStatus(t, "not-a-number", "alice-token"); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for a malformed session ID, got %d", status)
	}
}

func TestTunnelOwnershipMismatchKeepsSession(t *testing.T) {
	host, _ := newEchoUpstream(t)
	env := newTestEnv(t, host)

	_, payload := env.mint(t, "alice-token", "svc-1")
	sessionID := strconv.FormatInt(payload.SessionID, 10)

	if status := env.tunnelStatus(t, sessionID, "bob-token"); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for a foreign session, got %d", status)
	}
	if got, _ := env.sessions.Get(context.Background(), payload.SessionID); got == nil {
		t.Fatal("expected the session to survive an ownership mismatch")
	}

	// The rightful owner can still redeem it
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, payload.SessionID, "alice-token"), nil)
	if err != nil {
		t.Fatalf("expected the owner to still be able to open the tunnel: %v", err)
	}
	conn.Close()
}

func TestTunnelDialFailureConsumesSession(t *testing.T) {
	env := newTestEnv(t, "127.0.0.1:1")

	_, payload := env.mint(t, "alice-token", "svc-1")

	status := env.tunnelStatus(t, strconv.FormatInt(payload.SessionID, 10), "alice-token")
	if status != http.StatusBadGateway {
		t.Errorf("expected status 502 on upstream dial failure, got %d", status)
	}
	if got, _ := env.sessions.Get(context.Background(), payload.SessionID); got != nil {
		t.Error("expected the session to be consumed despite the failed dial")
	}
}

func TestTunnelRelaysFrames(t *testing.T) {
	host, done := newEchoUpstream(t)
	env := newTestEnv(t, host)

	_, payload := env.mint(t, "alice-token", "svc-1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, payload.SessionID, "alice-token"), nil)
	if err != nil {
		t.Fatalf("could not open the tunnel: %v", err)
	}
	defer conn.Close()

	// The session is consumed once the tunnel is up
	if got, _ := env.sessions.Get(context.Background(), payload.SessionID); got != nil {
		t.Error("expected the session to be consumed after redemption")
	}

	frame := []byte{0x52, 0x46, 0x42, 0x00, 0x03, 0x08}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("could not send binary frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, echoed, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("could not read echoed frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("expected a binary frame, got type %d", msgType)
	}
	if !bytes.Equal(echoed, frame) {
		t.Errorf("expected the frame to pass through unchanged, got %v", echoed)
	}

	// A second redemption attempt must be rejected
	if status := env.tunnelStatus(t, strconv.FormatInt(payload.SessionID, 10), "alice-token"); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for a consumed session, got %d", status)
	}

	// Closing the client side tears down both directions
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("could not send close frame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the upstream read loop to end after the client closed")
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
