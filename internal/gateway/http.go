package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	fc "facility_console"
)

// RemoteGateway talks to another console instance's REST API:
// GET /api/v1/devices?scope=... and PATCH /api/v1/devices/:id.
type RemoteGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteGateway builds a gateway against baseURL (no trailing slash
// required) authenticating with the given bearer token. Per-call deadlines
// come from the caller's context, so the client carries no timeout itself.
func NewRemoteGateway(baseURL, token string, client *http.Client) *RemoteGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Ensure implementation of Gateway interface at compile time.
var _ Gateway = (*RemoteGateway)(nil)

func (g *RemoteGateway) FetchDevices(ctx context.Context, scope string) ([]fc.Device, error) {
	endpoint := g.baseURL + "/api/v1/devices?scope=" + url.QueryEscape(scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(KindNetwork, err)
	}

	var devices []fc.Device
	if err := g.do(req, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (g *RemoteGateway) PatchDevice(ctx context.Context, id string, patch fc.DevicePatch) (fc.Device, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return fc.Device{}, NewError(KindValidationFailed, err)
	}

	endpoint := g.baseURL + "/api/v1/devices/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fc.Device{}, NewError(KindNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var device fc.Device
	if err := g.do(req, &device); err != nil {
		return fc.Device{}, err
	}
	return device, nil
}

// do sends the request, maps the status code to an error kind and decodes
// a 2xx body into out.
func (g *RemoteGateway) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return NewError(KindNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(KindNetwork, fmt.Errorf("decode %s response: %w", req.URL.Path, err))
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindUnauthorized, statusError(resp))
	case resp.StatusCode == http.StatusNotFound:
		return NewError(KindNotFound, statusError(resp))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewError(KindValidationFailed, statusError(resp))
	default:
		return NewError(KindNetwork, statusError(resp))
	}
}

// statusError folds the response body (truncated) into the error message.
func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}
