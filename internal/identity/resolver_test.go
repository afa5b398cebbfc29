package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

type fakeLeadStore struct {
	byEmail    map[string]*domain.Lead
	byExternal map[string]*domain.Lead // "column|value"

	created      []*domain.Lead
	backfills    []domain.LeadIdentifier
	conflictOnce bool // first CreateLead returns conflict
	raceWinner   *domain.Lead
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{
		byEmail:    map[string]*domain.Lead{},
		byExternal: map[string]*domain.Lead{},
	}
}

func (f *fakeLeadStore) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	if l, ok := f.byEmail[strings.ToLower(email)]; ok {
		return l, nil
	}
	return nil, apperr.New(apperr.CodeNotFound, "lead not found")
}

func (f *fakeLeadStore) FindLeadByExternalID(ctx context.Context, column, value string) (*domain.Lead, error) {
	if l, ok := f.byExternal[column+"|"+value]; ok {
		return l, nil
	}
	return nil, apperr.New(apperr.CodeNotFound, "lead not found")
}

func (f *fakeLeadStore) CreateLead(ctx context.Context, l *domain.Lead) error {
	if f.conflictOnce {
		f.conflictOnce = false
		// Simulate losing the insert race: the winner is now findable.
		f.byEmail[strings.ToLower(f.raceWinner.Email)] = f.raceWinner
		return apperr.New(apperr.CodeConflict, "duplicate email")
	}
	l.ID = uuid.New()
	f.created = append(f.created, l)
	f.byEmail[strings.ToLower(l.Email)] = l
	return nil
}

func (f *fakeLeadStore) FillIdentifiers(ctx context.Context, id uuid.UUID, ident domain.LeadIdentifier) error {
	f.backfills = append(f.backfills, ident)
	return nil
}

func TestResolve_EmptyIdentifierRejected(t *testing.T) {
	r := NewResolver(newFakeLeadStore())
	_, _, err := r.Resolve(context.Background(), domain.LeadIdentifier{}, "portal", "", time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestResolve_MatchByEmailBackfillsIdentifiers(t *testing.T) {
	st := newFakeLeadStore()
	existing := &domain.Lead{ID: uuid.New(), Email: "ada@lab.example"}
	st.byEmail["ada@lab.example"] = existing

	r := NewResolver(st)
	lead, created, err := r.Resolve(context.Background(), domain.LeadIdentifier{
		Email:    "Ada@Lab.Example", // case-insensitive match
		PortalID: "portal-77",
	}, "portal", "", time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, lead.ID)

	require.Len(t, st.backfills, 1)
	assert.Equal(t, "portal-77", st.backfills[0].PortalID)
}

func TestResolve_ResolutionOrderPrefersEmail(t *testing.T) {
	st := newFakeLeadStore()
	byEmail := &domain.Lead{ID: uuid.New(), Email: "ada@lab.example"}
	byPortal := &domain.Lead{ID: uuid.New(), Email: "other@lab.example"}
	st.byEmail["ada@lab.example"] = byEmail
	st.byExternal["portal_id|portal-1"] = byPortal

	r := NewResolver(st)
	lead, _, err := r.Resolve(context.Background(), domain.LeadIdentifier{
		Email:    "ada@lab.example",
		PortalID: "portal-1",
	}, "portal", "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, lead.ID)
}

func TestResolve_CreatesWithFirstTouchAttribution(t *testing.T) {
	st := newFakeLeadStore()
	r := NewResolver(st)
	occurred := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)

	lead, created, err := r.Resolve(context.Background(), domain.LeadIdentifier{
		Email: "new@lab.example",
	}, "lemlist", "summer-campaign", occurred)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, domain.LeadNew, lead.Status)
	assert.Equal(t, domain.StageLead, lead.LifecycleStage)
	assert.Equal(t, domain.RoutingUnrouted, lead.RoutingStatus)
	assert.Equal(t, "lemlist", lead.FirstTouchSource)
	assert.Equal(t, "summer-campaign", lead.FirstTouchCampaign)
	require.NotNil(t, lead.FirstTouchAt)
	assert.Equal(t, occurred, *lead.FirstTouchAt)
	assert.Equal(t, "lemlist", lead.LastTouchSource)
}

func TestResolve_PlaceholderEmailForNonEmailIdentifiers(t *testing.T) {
	st := newFakeLeadStore()
	r := NewResolver(st)

	lead, created, err := r.Resolve(context.Background(), domain.LeadIdentifier{
		WaalaxyID: "wx-123",
	}, "waalaxy", "", time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, lead.EmailPlaceholder)
	assert.Contains(t, lead.Email, "@placeholder.local")
	require.NotNil(t, lead.WaalaxyID)
	assert.Equal(t, "wx-123", *lead.WaalaxyID)
}

func TestResolve_InsertRaceLoserAdoptsWinner(t *testing.T) {
	st := newFakeLeadStore()
	winner := &domain.Lead{ID: uuid.New(), Email: "race@lab.example"}
	st.conflictOnce = true
	st.raceWinner = winner

	r := NewResolver(st)
	lead, created, err := r.Resolve(context.Background(), domain.LeadIdentifier{
		Email: "race@lab.example",
	}, "portal", "", time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, lead.ID)
	assert.Empty(t, st.created)
}

func TestNormalize(t *testing.T) {
	ident := Normalize(domain.LeadIdentifier{
		Email:       "  Ada@Lab.Example ",
		LinkedInURL: "https://WWW.LinkedIn.com/in/ada-nkemelu/",
	})
	assert.Equal(t, "ada@lab.example", ident.Email)
	assert.Equal(t, "https://www.linkedin.com/in/ada-nkemelu", ident.LinkedInURL)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://www.linkedin.com/in/jdoe/", "https://www.linkedin.com/in/jdoe"},
		{"HTTPS://WWW.LINKEDIN.COM/in/JDoe", "https://www.linkedin.com/in/JDoe"},
		{"linkedin.com/in/jdoe/", "linkedin.com/in/jdoe"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}
