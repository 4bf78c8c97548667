package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kfsoftware/asd/internal/asderrors"
)

// DefaultBootstrapEndpoint is the fixed credential-bootstrap URL spec §4.4
// describes; callers normally resolve it from ASD_CREDENTIAL_BOOTSTRAP_URL
// instead of hardcoding it so a project can point at its own gateway.
const DefaultBootstrapEndpoint = "https://gateway.asd.sh/v1/credentials/bootstrap"

type bootstrapResponse struct {
	TunnelClientID     string     `json:"tunnel_client_id"`
	TunnelClientSecret string     `json:"tunnel_client_secret"`
	ExpiresAt          *time.Time `json:"expires_at"`
	TunnelHost         string     `json:"tunnel_host"`
	TunnelPort         int        `json:"tunnel_port"`
	Limits             *Limits    `json:"limits,omitempty"`
}

// GenerateEphemeral POSTs to the credential-bootstrap endpoint (spec §4.4,
// §6) and returns the resulting tuple as a new, as yet unsaved ephemeral
// credential named name; the caller is responsible for Store.Append-ing
// it (and SetDefault, if it should become the project default).
func GenerateEphemeral(client *http.Client, endpoint, name string) (Credential, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(nil))
	if err != nil {
		return Credential{}, asderrors.Wrapf(asderrors.KindTransient, "", err, "request ephemeral credential")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, asderrors.New(asderrors.KindProtocol, "", fmt.Errorf("credential endpoint returned %s", resp.Status))
	}

	var body bootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, asderrors.Wrapf(asderrors.KindProtocol, "", err, "decode credential response")
	}

	return Credential{
		Name:           name,
		Kind:           KindEphemeral,
		Host:           body.TunnelHost,
		Port:           body.TunnelPort,
		ClientID:       body.TunnelClientID,
		SecretOrKeyRef: body.TunnelClientSecret,
		ExpiresAt:      body.ExpiresAt,
		Limits:         body.Limits,
	}, nil
}
