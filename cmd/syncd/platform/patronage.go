package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/signature"
	"github.com/clubops/membersync/common/syncerr"
)

// PatronageAdapter syncs patrons and their contribution amounts, which
// drive membership tier assignment.
type PatronageAdapter struct{}

// NewPatronageAdapter creates the patronage adapter
func NewPatronageAdapter() *PatronageAdapter {
	return &PatronageAdapter{}
}

func (a *PatronageAdapter) Name() models.Platform {
	return models.PlatformPatronage
}

// The patronage platform signs webhooks with HMAC-MD5 hex, unlike the
// SHA256 schemes elsewhere. Confirmed against their current docs.
func (a *PatronageAdapter) SignatureScheme() signature.Scheme {
	return signature.Scheme{
		Header:   "x-patronage-signature",
		Hash:     signature.HashMD5,
		Encoding: signature.EncodingHex,
	}
}

// patron is the wire shape of one patron record
type patron struct {
	ID         string `json:"id"`
	Attributes struct {
		Email            string `json:"email"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		PledgeAmountCent int    `json:"pledge_amount_cents"`
	} `json:"attributes"`
}

func (a *PatronageAdapter) ParseWebhook(payload []byte) (Entity, error) {
	var body struct {
		Data patron `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Entity{}, syncerr.Permanent(fmt.Errorf("malformed patronage webhook: %w", err))
	}

	return patronToEntity(body.Data, payload), nil
}

func (a *PatronageAdapter) FetchPage(ctx context.Context, fetcher Fetcher, cfg config.PlatformConfig, scope map[string]string, page int) (Page, error) {
	campaign := scope["campaign_id"]
	if campaign == "" {
		campaign = "default"
	}
	url := fmt.Sprintf("%s/campaigns/%s/members?page[number]=%d&page[size]=%d", cfg.APIBaseURL, campaign, page, cfg.PageSize)

	var body struct {
		Data []patron `json:"data"`
		Meta struct {
			Pagination struct {
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		} `json:"meta"`
	}
	if err := fetcher.GetJSON(ctx, string(a.Name()), url, &body); err != nil {
		return Page{}, fmt.Errorf("fetch patrons: %w", err)
	}

	entities := make([]Entity, 0, len(body.Data))
	for _, p := range body.Data {
		raw, _ := json.Marshal(p)
		entities = append(entities, patronToEntity(p, raw))
	}

	return Page{Entities: entities, HasMore: page < body.Meta.Pagination.TotalPages}, nil
}

func patronToEntity(p patron, raw []byte) Entity {
	return Entity{
		ExternalID:  p.ID,
		Email:       p.Attributes.Email,
		FirstName:   p.Attributes.FirstName,
		LastName:    p.Attributes.LastName,
		AmountCents: p.Attributes.PledgeAmountCent,
		Raw:         raw,
	}
}
