package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/jddlt/sora2api/internal/models"
)

// CameoHints tune the persona derived from the source media.
type CameoHints struct {
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// CreateCameo starts deriving a reusable character from an uploaded asset.
// Derivation is asynchronous; poll CameoStatus until it reports ready.
func (c *Client) CreateCameo(ctx context.Context, account, sourceAssetID string, hints CameoHints) (models.Cameo, error) {
	if sourceAssetID == "" {
		return models.Cameo{}, fmt.Errorf("create cameo: %w", errEmptyIdentifier)
	}

	in := struct {
		SourceAssetID string `json:"source_asset_id"`
		CameoHints
	}{SourceAssetID: sourceAssetID, CameoHints: hints}

	var payload struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		AvatarPointer string `json:"avatar_url"`
	}
	if err := c.postJSON(ctx, account, "/project_y/cameo", in, &payload, callOptions{}); err != nil {
		return models.Cameo{}, err
	}
	if payload.ID == "" {
		return models.Cameo{}, errors.New("cameo response missing id")
	}

	return models.Cameo{
		ID:            payload.ID,
		SourceAssetID: sourceAssetID,
		Status:        models.CameoStatus(payload.Status),
		DisplayName:   hints.DisplayName,
		Username:      hints.Username,
		AvatarPointer: payload.AvatarPointer,
	}, nil
}

// CameoStatus fetches the derivation state of a cameo.
func (c *Client) CameoStatus(ctx context.Context, account, cameoID string) (models.Cameo, error) {
	if cameoID == "" {
		return models.Cameo{}, fmt.Errorf("cameo status: %w", errEmptyIdentifier)
	}

	var payload struct {
		ID            string `json:"id"`
		SourceAssetID string `json:"source_asset_id"`
		Status        string `json:"status"`
		DisplayName   string `json:"display_name"`
		Username      string `json:"username"`
		AvatarPointer string `json:"avatar_url"`
		CharacterID   string `json:"character_id"`
	}
	if err := c.getJSON(ctx, account, "/project_y/cameo/"+cameoID, &payload); err != nil {
		return models.Cameo{}, err
	}

	return models.Cameo{
		ID:            payload.ID,
		SourceAssetID: payload.SourceAssetID,
		Status:        models.CameoStatus(payload.Status),
		DisplayName:   payload.DisplayName,
		Username:      payload.Username,
		AvatarPointer: payload.AvatarPointer,
		CharacterID:   payload.CharacterID,
	}, nil
}

// FinalizeCameo promotes a ready cameo into a castable character and returns
// the character identifier used in generation requests.
func (c *Client) FinalizeCameo(ctx context.Context, account, cameoID string) (string, error) {
	if cameoID == "" {
		return "", fmt.Errorf("finalize cameo: %w", errEmptyIdentifier)
	}

	var payload struct {
		CharacterID string `json:"character_id"`
	}
	if err := c.postJSON(ctx, account, "/project_y/cameo/"+cameoID+"/finalize", nil, &payload, callOptions{}); err != nil {
		return "", err
	}
	if payload.CharacterID == "" {
		return "", errors.New("finalize response missing character id")
	}
	return payload.CharacterID, nil
}

// SetCameoVisibility sets who may cast the character in their generations.
func (c *Client) SetCameoVisibility(ctx context.Context, account, cameoID, visibility string) error {
	if cameoID == "" {
		return fmt.Errorf("set cameo visibility: %w", errEmptyIdentifier)
	}
	in := map[string]string{"visibility": visibility}
	return c.postJSON(ctx, account, "/project_y/cameo/"+cameoID+"/visibility", in, nil, callOptions{})
}

// DeleteCameo removes a cameo and its derived character.
func (c *Client) DeleteCameo(ctx context.Context, account, cameoID string) error {
	if cameoID == "" {
		return fmt.Errorf("delete cameo: %w", errEmptyIdentifier)
	}
	return c.delete(ctx, account, "/project_y/cameo/"+cameoID)
}
