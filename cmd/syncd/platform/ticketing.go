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

// TicketingAdapter syncs event attendees from the ticketing platform
type TicketingAdapter struct{}

// NewTicketingAdapter creates the ticketing adapter
func NewTicketingAdapter() *TicketingAdapter {
	return &TicketingAdapter{}
}

func (a *TicketingAdapter) Name() models.Platform {
	return models.PlatformTicketing
}

func (a *TicketingAdapter) SignatureScheme() signature.Scheme {
	return signature.Scheme{
		Header:   "x-ticketing-signature",
		Hash:     signature.HashSHA256,
		Encoding: signature.EncodingHex,
	}
}

// ticketingAttendee is the wire shape of one attendee
type ticketingAttendee struct {
	ID      string `json:"id"`
	Profile struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"profile"`
}

func (a *TicketingAdapter) ParseWebhook(payload []byte) (Entity, error) {
	// Ticketing webhooks wrap the attendee under an "attendee" key
	var body struct {
		Attendee ticketingAttendee `json:"attendee"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Entity{}, syncerr.Permanent(fmt.Errorf("malformed ticketing webhook: %w", err))
	}

	return attendeeToEntity(body.Attendee, payload), nil
}

func (a *TicketingAdapter) FetchPage(ctx context.Context, fetcher Fetcher, cfg config.PlatformConfig, scope map[string]string, page int) (Page, error) {
	url := fmt.Sprintf("%s/attendees/?page=%d&page_size=%d", cfg.APIBaseURL, page, cfg.PageSize)
	if eventID := scope["event_id"]; eventID != "" {
		url = fmt.Sprintf("%s/events/%s/attendees/?page=%d&page_size=%d", cfg.APIBaseURL, eventID, page, cfg.PageSize)
	}

	var body struct {
		Attendees  []ticketingAttendee `json:"attendees"`
		Pagination struct {
			HasMoreItems bool `json:"has_more_items"`
		} `json:"pagination"`
	}
	if err := fetcher.GetJSON(ctx, string(a.Name()), url, &body); err != nil {
		return Page{}, fmt.Errorf("fetch ticketing attendees: %w", err)
	}

	entities := make([]Entity, 0, len(body.Attendees))
	for _, attendee := range body.Attendees {
		raw, _ := json.Marshal(attendee)
		entities = append(entities, attendeeToEntity(attendee, raw))
	}

	return Page{Entities: entities, HasMore: body.Pagination.HasMoreItems}, nil
}

func attendeeToEntity(attendee ticketingAttendee, raw []byte) Entity {
	return Entity{
		ExternalID: attendee.ID,
		Email:      attendee.Profile.Email,
		FirstName:  attendee.Profile.FirstName,
		LastName:   attendee.Profile.LastName,
		Raw:        raw,
	}
}
