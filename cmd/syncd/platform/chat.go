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

// ChatAdapter syncs community profiles from the chat platform
type ChatAdapter struct{}

// NewChatAdapter creates the chat adapter
func NewChatAdapter() *ChatAdapter {
	return &ChatAdapter{}
}

func (a *ChatAdapter) Name() models.Platform {
	return models.PlatformChat
}

func (a *ChatAdapter) SignatureScheme() signature.Scheme {
	return signature.Scheme{
		Header:   "x-chat-signature",
		Hash:     signature.HashSHA256,
		Encoding: signature.EncodingHex,
	}
}

// chatProfile is the wire shape of one community member profile.
// Chat profiles frequently have no email; those are recorded as
// permanent failures by the reconciler, since there is no match key.
type chatProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Nick     string `json:"nick"`
	GlobalNm string `json:"global_name"`
}

func (a *ChatAdapter) ParseWebhook(payload []byte) (Entity, error) {
	var body struct {
		Member chatProfile `json:"member"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Entity{}, syncerr.Permanent(fmt.Errorf("malformed chat webhook: %w", err))
	}

	return chatToEntity(body.Member, payload), nil
}

func (a *ChatAdapter) FetchPage(ctx context.Context, fetcher Fetcher, cfg config.PlatformConfig, scope map[string]string, page int) (Page, error) {
	guildID := scope["guild_id"]
	if guildID == "" {
		guildID = "default"
	}
	url := fmt.Sprintf("%s/guilds/%s/members?limit=%d&page=%d", cfg.APIBaseURL, guildID, cfg.PageSize, page)

	var body struct {
		Members []chatProfile `json:"members"`
		HasMore bool          `json:"has_more"`
	}
	if err := fetcher.GetJSON(ctx, string(a.Name()), url, &body); err != nil {
		return Page{}, fmt.Errorf("fetch chat members: %w", err)
	}

	entities := make([]Entity, 0, len(body.Members))
	for _, m := range body.Members {
		raw, _ := json.Marshal(m)
		entities = append(entities, chatToEntity(m, raw))
	}

	return Page{Entities: entities, HasMore: body.HasMore}, nil
}

func chatToEntity(p chatProfile, raw []byte) Entity {
	first := p.GlobalNm
	if first == "" {
		first = p.Nick
	}
	return Entity{
		ExternalID: p.ID,
		Email:      p.Email,
		FirstName:  first,
		Raw:        raw,
	}
}
