package api

import (
	"context"
	"fmt"
	"time"
)

// Profile is the remote account profile.
type Profile struct {
	Email         string
	Name          string
	Username      string
	PhoneVerified bool
}

// Subscription summarizes the account's billing plan.
type Subscription struct {
	PlanType  string
	PlanTitle string
	EndsAt    time.Time
}

// InviteInfo is the account's invite code and redemption counts.
type InviteInfo struct {
	Code     string
	Redeemed int
	Total    int
}

// Quota reports the remaining generation allowance.
type Quota struct {
	RemainingVideos  int
	RateLimitReached bool
	ResetsIn         time.Duration
}

// Me fetches the account profile.
func (c *Client) Me(ctx context.Context, account string) (Profile, error) {
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Username string `json:"username"`
		MyInfo   struct {
			PhoneVerified bool `json:"is_phone_number_verified"`
		} `json:"my_info"`
	}
	if err := c.getJSON(ctx, account, "/me", &payload); err != nil {
		return Profile{}, err
	}
	return Profile{
		Email:         payload.Email,
		Name:          payload.Name,
		Username:      payload.Username,
		PhoneVerified: payload.MyInfo.PhoneVerified,
	}, nil
}

// CheckUsername reports whether the username is available.
func (c *Client) CheckUsername(ctx context.Context, account, username string) (bool, error) {
	var payload struct {
		Available bool `json:"available"`
	}
	in := map[string]string{"username": username}
	if err := c.postJSON(ctx, account, "/project_y/profile/username/check", in, &payload, callOptions{}); err != nil {
		return false, err
	}
	return payload.Available, nil
}

// SetUsername assigns the account's public username.
func (c *Client) SetUsername(ctx context.Context, account, username string) error {
	if username == "" {
		return fmt.Errorf("set username: %w", errEmptyIdentifier)
	}
	in := map[string]string{"username": username}
	return c.postJSON(ctx, account, "/project_y/profile/username/set", in, nil, callOptions{})
}

// Subscription fetches the account's active billing plan, if any.
func (c *Client) Subscription(ctx context.Context, account string) (Subscription, error) {
	var payload struct {
		Data []struct {
			Plan struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"plan"`
			EndTS string `json:"end_ts"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, account, "/billing/subscriptions", &payload); err != nil {
		return Subscription{}, err
	}
	if len(payload.Data) == 0 {
		return Subscription{}, nil
	}

	sub := Subscription{
		PlanType:  payload.Data[0].Plan.ID,
		PlanTitle: payload.Data[0].Plan.Title,
	}
	if payload.Data[0].EndTS != "" {
		if ends, err := time.Parse(time.RFC3339, payload.Data[0].EndTS); err == nil {
			sub.EndsAt = ends
		}
	}
	return sub, nil
}

// InviteCode fetches the account's invite code and redemption counts.
func (c *Client) InviteCode(ctx context.Context, account string) (InviteInfo, error) {
	var payload struct {
		InviteCode    string `json:"invite_code"`
		RedeemedCount int    `json:"redeemed_count"`
		TotalCount    int    `json:"total_count"`
	}
	if err := c.getJSON(ctx, account, "/project_y/invite/mine", &payload); err != nil {
		return InviteInfo{}, err
	}
	return InviteInfo{
		Code:     payload.InviteCode,
		Redeemed: payload.RedeemedCount,
		Total:    payload.TotalCount,
	}, nil
}

// AcceptInvite redeems an invite code for the account.
func (c *Client) AcceptInvite(ctx context.Context, account, inviteCode string) error {
	if inviteCode == "" {
		return fmt.Errorf("accept invite: %w", errEmptyIdentifier)
	}
	in := map[string]string{"invite_code": inviteCode}
	return c.postJSON(ctx, account, "/project_y/invite/accept", in, nil, callOptions{})
}

// Bootstrap activates generation access for accounts the service has not
// yet enabled.
func (c *Client) Bootstrap(ctx context.Context, account string) error {
	return c.getJSON(ctx, account, "/m/bootstrap", nil)
}

// RemainingQuota fetches the account's remaining generation allowance.
func (c *Client) RemainingQuota(ctx context.Context, account string) (Quota, error) {
	var payload struct {
		Balance struct {
			Remaining   int  `json:"estimated_num_videos_remaining"`
			RateLimited bool `json:"rate_limit_reached"`
			ResetsIn    int  `json:"access_resets_in_seconds"`
		} `json:"rate_limit_and_credit_balance"`
	}
	if err := c.getJSON(ctx, account, "/nf/check", &payload); err != nil {
		return Quota{}, err
	}
	return Quota{
		RemainingVideos:  payload.Balance.Remaining,
		RateLimitReached: payload.Balance.RateLimited,
		ResetsIn:         time.Duration(payload.Balance.ResetsIn) * time.Second,
	}, nil
}
