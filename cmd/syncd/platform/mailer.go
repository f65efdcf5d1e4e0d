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

// MailerAdapter syncs email-marketing subscribers
type MailerAdapter struct{}

// NewMailerAdapter creates the email-marketing adapter
func NewMailerAdapter() *MailerAdapter {
	return &MailerAdapter{}
}

func (a *MailerAdapter) Name() models.Platform {
	return models.PlatformMailer
}

// The mailer platform base64-encodes its SHA256 digest
func (a *MailerAdapter) SignatureScheme() signature.Scheme {
	return signature.Scheme{
		Header:   "x-email-marketing-signature",
		Hash:     signature.HashSHA256,
		Encoding: signature.EncodingBase64,
	}
}

// subscriber is the wire shape of one list subscriber
type subscriber struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	MergeFields  struct {
		FName string `json:"FNAME"`
		LName string `json:"LNAME"`
	} `json:"merge_fields"`
}

func (a *MailerAdapter) ParseWebhook(payload []byte) (Entity, error) {
	var body struct {
		Data subscriber `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Entity{}, syncerr.Permanent(fmt.Errorf("malformed mailer webhook: %w", err))
	}

	return subscriberToEntity(body.Data, payload), nil
}

func (a *MailerAdapter) FetchPage(ctx context.Context, fetcher Fetcher, cfg config.PlatformConfig, scope map[string]string, page int) (Page, error) {
	listID := scope["list_id"]
	if listID == "" {
		listID = "default"
	}
	offset := (page - 1) * cfg.PageSize
	url := fmt.Sprintf("%s/lists/%s/members?offset=%d&count=%d", cfg.APIBaseURL, listID, offset, cfg.PageSize)

	var body struct {
		Members    []subscriber `json:"members"`
		TotalItems int          `json:"total_items"`
	}
	if err := fetcher.GetJSON(ctx, string(a.Name()), url, &body); err != nil {
		return Page{}, fmt.Errorf("fetch subscribers: %w", err)
	}

	entities := make([]Entity, 0, len(body.Members))
	for _, m := range body.Members {
		raw, _ := json.Marshal(m)
		entities = append(entities, subscriberToEntity(m, raw))
	}

	return Page{Entities: entities, HasMore: offset+len(body.Members) < body.TotalItems}, nil
}

func subscriberToEntity(s subscriber, raw []byte) Entity {
	return Entity{
		ExternalID: s.ID,
		Email:      s.EmailAddress,
		FirstName:  s.MergeFields.FName,
		LastName:   s.MergeFields.LName,
		Raw:        raw,
	}
}
