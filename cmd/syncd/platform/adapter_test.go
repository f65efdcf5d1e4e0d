package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher answers every GetJSON with a canned response and records
// the requested URLs.
type stubFetcher struct {
	response []byte
	urls     []string
}

func (s *stubFetcher) GetJSON(ctx context.Context, platform string, url string, out interface{}) error {
	s.urls = append(s.urls, url)
	return json.Unmarshal(s.response, out)
}

func TestDefaultRegistry_CoversAllPlatforms(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() { r = DefaultRegistry() })

	for _, pf := range []models.Platform{
		models.PlatformTicketing,
		models.PlatformPatronage,
		models.PlatformMailer,
		models.PlatformChat,
	} {
		adapter, err := r.Lookup(pf)
		require.NoError(t, err)
		assert.Equal(t, pf, adapter.Name())
	}

	_, err := r.Lookup(models.Platform("carrier-pigeon"))
	assert.ErrorIs(t, err, syncerr.ErrUnknownPlatform)

	schemes := r.SignatureSchemes()
	assert.Len(t, schemes, 4)
	assert.Equal(t, "x-ticketing-signature", schemes[string(models.PlatformTicketing)].Header)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTicketingAdapter()))
	assert.Error(t, r.Register(NewTicketingAdapter()))
}

func TestTicketingParseWebhook(t *testing.T) {
	payload := []byte(`{
		"attendee": {
			"id": "att-42",
			"profile": {"email": "a@x.com", "first_name": "A", "last_name": "B"}
		}
	}`)

	entity, err := NewTicketingAdapter().ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "att-42", entity.ExternalID)
	assert.Equal(t, "a@x.com", entity.Email)
	assert.Equal(t, "A", entity.FirstName)
	assert.Equal(t, "B", entity.LastName)
	assert.Equal(t, payload, entity.Raw)
}

func TestTicketingParseWebhook_Malformed(t *testing.T) {
	_, err := NewTicketingAdapter().ParseWebhook([]byte("{"))
	require.Error(t, err)
	assert.False(t, syncerr.IsTransient(err))
}

func TestPatronageParseWebhook_CarriesAmount(t *testing.T) {
	payload := []byte(`{
		"data": {
			"id": "patron-7",
			"attributes": {"email": "p@x.com", "pledge_amount_cents": 1500}
		}
	}`)

	entity, err := NewPatronageAdapter().ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "patron-7", entity.ExternalID)
	assert.Equal(t, 1500, entity.AmountCents)
}

func TestMailerParseWebhook_MergeFields(t *testing.T) {
	payload := []byte(`{
		"data": {
			"id": "sub-1",
			"email_address": "M@X.com",
			"merge_fields": {"FNAME": "Mar", "LNAME": "Lo"}
		}
	}`)

	entity, err := NewMailerAdapter().ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "M@X.com", entity.Email)
	assert.Equal(t, "Mar", entity.FirstName)
	assert.Equal(t, "Lo", entity.LastName)
}

func TestChatParseWebhook_NamePreference(t *testing.T) {
	entity, err := NewChatAdapter().ParseWebhook([]byte(`{
		"member": {"id": "u1", "nick": "nick", "global_name": "Global"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Global", entity.FirstName)
	assert.Empty(t, entity.Email)

	entity, err = NewChatAdapter().ParseWebhook([]byte(`{
		"member": {"id": "u1", "nick": "nick"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "nick", entity.FirstName)
}

func TestTicketingFetchPage_ScopeAndPagination(t *testing.T) {
	fetcher := &stubFetcher{response: []byte(`{
		"attendees": [
			{"id": "att-1", "profile": {"email": "a@x.com"}},
			{"id": "att-2", "profile": {"email": "b@x.com"}}
		],
		"pagination": {"has_more_items": true}
	}`)}
	cfg := config.PlatformConfig{APIBaseURL: "https://tix.example", PageSize: 50}

	page, err := NewTicketingAdapter().FetchPage(context.Background(), fetcher, cfg, map[string]string{"event_id": "ev-9"}, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Entities, 2)
	assert.Equal(t, "att-1", page.Entities[0].ExternalID)

	require.Len(t, fetcher.urls, 1)
	assert.Equal(t, "https://tix.example/events/ev-9/attendees/?page=2&page_size=50", fetcher.urls[0])
}

func TestPatronageFetchPage_TotalPagesDrivesHasMore(t *testing.T) {
	fetcher := &stubFetcher{response: []byte(`{
		"data": [{"id": "p1", "attributes": {"email": "p@x.com", "pledge_amount_cents": 500}}],
		"meta": {"pagination": {"total_pages": 3}}
	}`)}
	cfg := config.PlatformConfig{APIBaseURL: "https://patronage.example", PageSize: 20}

	page, err := NewPatronageAdapter().FetchPage(context.Background(), fetcher, cfg, nil, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	page, err = NewPatronageAdapter().FetchPage(context.Background(), fetcher, cfg, nil, 3)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
}

func TestMailerFetchPage_OffsetPagination(t *testing.T) {
	fetcher := &stubFetcher{response: []byte(`{
		"members": [
			{"id": "s1", "email_address": "a@x.com", "merge_fields": {}},
			{"id": "s2", "email_address": "b@x.com", "merge_fields": {}}
		],
		"total_items": 4
	}`)}
	cfg := config.PlatformConfig{APIBaseURL: "https://mail.example", PageSize: 2}

	page, err := NewMailerAdapter().FetchPage(context.Background(), fetcher, cfg, map[string]string{"list_id": "l7"}, 1)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "https://mail.example/lists/l7/members?offset=0&count=2", fetcher.urls[0])

	// Second page reaches the total, so the sweep stops
	page, err = NewMailerAdapter().FetchPage(context.Background(), fetcher, cfg, map[string]string{"list_id": "l7"}, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, "https://mail.example/lists/l7/members?offset=2&count=2", fetcher.urls[1])
}
