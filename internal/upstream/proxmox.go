package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProxmoxClient implements the Client interface against the Proxmox VE API
type ProxmoxClient struct {
	baseURL  string
	username string
	password string
	realm    string
	http     *http.Client
}

var _ Client = (*ProxmoxClient)(nil)

// NewProxmoxClient creates a new ticket client for the Proxmox VE API running on the given host.
// insecureTLS disables certificate verification for hosts running self-signed certificates.
func NewProxmoxClient(host, username, password, realm string, insecureTLS bool) *ProxmoxClient {
	return &ProxmoxClient{
		baseURL:  "https://" + host,
		username: username,
		password: password,
		realm:    realm,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureTLS},
			},
		},
	}
}

type controlTicketResponse struct {
	Data struct {
		Ticket    string `json:"ticket"`
		CSRFToken string `json:"CSRFPreventionToken"`
	} `json:"data"`
}

// ControlTicket obtains a fresh control ticket using the configured service credentials
func (client *ProxmoxClient) ControlTicket(ctx context.Context) (*ControlTicket, error) {
	form := url.Values{
		"username": {client.username},
		"password": {client.password},
		"realm":    {client.realm},
	}

	endpoint := client.baseURL + "/api2/json/access/ticket"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("control ticket request failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &StatusError{Status: response.StatusCode, Endpoint: "/api2/json/access/ticket"}
	}

	payload := new(controlTicketResponse)
	if err := json.NewDecoder(response.Body).Decode(payload); err != nil {
		return nil, fmt.Errorf("malformed control ticket response: %w", err)
	}
	if payload.Data.Ticket == "" || payload.Data.CSRFToken == "" {
		return nil, errors.New("malformed control ticket response: missing ticket or CSRF token")
	}

	return &ControlTicket{
		Ticket:    payload.Data.Ticket,
		CSRFToken: payload.Data.CSRFToken,
	}, nil
}

type consoleTicketResponse struct {
	Data struct {
		// Some API versions report the port as a JSON string, others as a number
		Port     json.Number `json:"port"`
		Ticket   string      `json:"ticket"`
		Password string      `json:"password"`
	} `json:"data"`
}

// ConsoleTicket obtains a console ticket scoped to the given node/VM pair
func (client *ProxmoxClient) ConsoleTicket(ctx context.Context, node, vmID string, ct *ControlTicket) (*ConsoleTicket, error) {
	body, err := json.Marshal(map[string]int{
		"generate-password": 1,
		"websocket":         1,
	})
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%s/vncproxy", node, vmID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Cookie", AuthCookieName+"="+ct.Ticket)
	request.Header.Set(CSRFTokenHeader, ct.CSRFToken)

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("console ticket request failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &StatusError{Status: response.StatusCode, Endpoint: path}
	}

	payload := new(consoleTicketResponse)
	if err := json.NewDecoder(response.Body).Decode(payload); err != nil {
		return nil, fmt.Errorf("malformed console ticket response: %w", err)
	}
	if payload.Data.Ticket == "" {
		return nil, errors.New("malformed console ticket response: missing ticket")
	}

	return &ConsoleTicket{
		Port:     payload.Data.Port.String(),
		Ticket:   payload.Data.Ticket,
		Password: payload.Data.Password,
	}, nil
}

// ConsoleWebSocketURL builds the wss endpoint serving the VNC console of a single VM
func ConsoleWebSocketURL(host, node, vmID, port, ticket string) string {
	query := url.Values{
		"port":      {port},
		"vncticket": {ticket},
	}
	return fmt.Sprintf("wss://%s/api2/json/nodes/%s/qemu/%s/vncwebsocket?%s", host, node, vmID, query.Encode())
}
