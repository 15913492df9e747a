package imagebuilder

import (
	"context"
	"encoding/json"
	"net/http"
)

// Blueprint is the list-endpoint summary of a blueprint.
type Blueprint struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Version        int    `json:"version,omitempty"`
	LastModifiedAt string `json:"last_modified_at"`
}

// Compose is the list-endpoint summary of a compose.
type Compose struct {
	ID          string `json:"id"`
	BlueprintID string `json:"blueprint_id"`
	ImageName   string `json:"image_name"`
	CreatedAt   string `json:"created_at"`
}

// ComposeRequest is the payload for creating a compose directly.
type ComposeRequest struct {
	Distribution     string         `json:"distribution"`
	ClientID         string         `json:"client_id"`
	ImageName        string         `json:"image_name,omitempty"`
	ImageDescription string         `json:"image_description,omitempty"`
	ImageRequests    []ImageRequest `json:"image_requests"`
}

// ImageRequest describes one image to build within a compose.
type ImageRequest struct {
	Architecture  string        `json:"architecture"`
	ImageType     string        `json:"image_type"`
	UploadRequest UploadRequest `json:"upload_request"`
}

// UploadRequest selects where the built image is uploaded.
type UploadRequest struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options"`
}

// shapeOf reports the top-level JSON shape of a raw response body:
// "object", "list", or "scalar".
func shapeOf(raw []byte) string {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return "object"
		case '[':
			return "list"
		default:
			return "scalar"
		}
	}
	return "scalar"
}

// decodeObject validates that raw is a JSON object before unmarshaling
// into dst, so shape mismatches surface as MalformedResponseError rather
// than a missing-key panic downstream.
func decodeObject(endpoint string, raw []byte, dst any) error {
	if shape := shapeOf(raw); shape != "object" {
		return &MalformedResponseError{Endpoint: endpoint, Expected: "object", Got: shape}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &MalformedResponseError{Endpoint: endpoint, Expected: "object", Got: "undecodable"}
	}
	return nil
}

// decodeList is the list-shaped counterpart of decodeObject.
func decodeList(endpoint string, raw []byte, dst any) error {
	if shape := shapeOf(raw); shape != "list" {
		return &MalformedResponseError{Endpoint: endpoint, Expected: "list", Got: shape}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &MalformedResponseError{Endpoint: endpoint, Expected: "list", Got: "undecodable"}
	}
	return nil
}

// OpenAPI fetches the API's OpenAPI document. Works unauthenticated.
func (c *Client) OpenAPI(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.request(ctx, http.MethodGet, "openapi.json", nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// ListBlueprints fetches the full blueprint collection. The upstream
// returns the whole set in one call; pagination happens server-side here,
// not upstream.
func (c *Client) ListBlueprints(ctx context.Context) ([]Blueprint, error) {
	raw, err := c.request(ctx, http.MethodGet, "blueprints", nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []Blueprint `json:"data"`
	}
	if err := decodeObject("blueprints", raw, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// GetBlueprint fetches the full detail of one blueprint.
func (c *Client) GetBlueprint(ctx context.Context, blueprintID string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "blueprints/"+blueprintID, nil)
	if err != nil {
		return nil, err
	}
	var detail map[string]any
	if err := decodeObject("blueprints/"+blueprintID, raw, &detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// CreateBlueprint posts a CreateBlueprintRequest payload and returns the
// created blueprint object.
func (c *Client) CreateBlueprint(ctx context.Context, data map[string]any) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodPost, "blueprints", data)
	if err != nil {
		return nil, err
	}
	var created map[string]any
	if err := decodeObject("blueprints", raw, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// ListComposes fetches the full compose collection.
func (c *Client) ListComposes(ctx context.Context) ([]Compose, error) {
	raw, err := c.request(ctx, http.MethodGet, "composes", nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []Compose `json:"data"`
	}
	if err := decodeObject("composes", raw, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// GetCompose fetches the full detail of one compose, including the image
// status and upload options.
func (c *Client) GetCompose(ctx context.Context, composeID string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "composes/"+composeID, nil)
	if err != nil {
		return nil, err
	}
	var detail map[string]any
	if err := decodeObject("composes/"+composeID, raw, &detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// CreateCompose starts a build directly from a ComposeRequest.
func (c *Client) CreateCompose(ctx context.Context, req ComposeRequest) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodPost, "compose", req)
	if err != nil {
		return nil, err
	}
	var created map[string]any
	if err := decodeObject("compose", raw, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// ComposeBlueprint starts builds for an existing blueprint. The upstream
// responds with a list of build objects, each carrying an id.
func (c *Client) ComposeBlueprint(ctx context.Context, blueprintID string) ([]any, error) {
	endpoint := "blueprints/" + blueprintID + "/compose"
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var builds []any
	if err := decodeList(endpoint, raw, &builds); err != nil {
		return nil, err
	}
	return builds, nil
}
