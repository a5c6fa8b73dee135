package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

type fakeTagPusher struct {
	subscriber   *botconversa.Subscriber
	addedTags    []string
	removedTags  []string
	customFields map[string]string
}

func (f *fakeTagPusher) GetSubscriberByPhone(_ context.Context, _ string) (*botconversa.Subscriber, error) {
	return f.subscriber, nil
}

func (f *fakeTagPusher) AddTag(_ context.Context, _ int64, tag string) error {
	f.addedTags = append(f.addedTags, tag)
	return nil
}

func (f *fakeTagPusher) RemoveTag(_ context.Context, _ int64, tag string) error {
	f.removedTags = append(f.removedTags, tag)
	return nil
}

func (f *fakeTagPusher) SetCustomField(_ context.Context, _ int64, field, value string) error {
	if f.customFields == nil {
		f.customFields = make(map[string]string)
	}
	f.customFields[field] = value
	return nil
}

func statusRules() []config.StatusRule {
	return []config.StatusRule{
		{Tag: "Aguardando pagamento", Status: models.LeadStatusProposal},
		{Tag: "Matriculado", Status: models.LeadStatusWon},
		{Tag: "Desistente", Status: models.LeadStatusLost},
	}
}

func createLead(t *testing.T, gdb *gorm.DB, status string) *models.Lead {
	t.Helper()
	lead := models.Lead{Phone: "5511999990000", Team: "Comercial", Status: status, Source: models.SourceBotConversa}
	require.NoError(t, gdb.Create(&lead).Error)
	return &lead
}

func TestApplyTagMapsStatus(t *testing.T) {
	gdb := openTestDB(t)
	svc, err := NewStatusSyncService(gdb, statusRules(), nil)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusNew)

	require.NoError(t, svc.ApplyTag(context.Background(), lead, "Aguardando pagamento", false))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusProposal, reloaded.Status)
}

func TestApplyTagIgnoresUnmappedTag(t *testing.T) {
	gdb := openTestDB(t)
	svc, err := NewStatusSyncService(gdb, statusRules(), nil)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusContacted)

	require.NoError(t, svc.ApplyTag(context.Background(), lead, "Suporte", true))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusContacted, reloaded.Status)
}

func TestApplyTagIsIdempotentForSameStatus(t *testing.T) {
	gdb := openTestDB(t)
	remote := &fakeTagPusher{subscriber: &botconversa.Subscriber{ID: 7, Phone: "5511999990000"}}
	svc, err := NewStatusSyncService(gdb, statusRules(), remote)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusProposal)

	// Double delivery of the same tag event changes nothing and pushes nothing.
	require.NoError(t, svc.ApplyTag(context.Background(), lead, "Aguardando pagamento", true))
	assert.Empty(t, remote.addedTags)
	assert.Empty(t, remote.customFields)
}

func TestApplyTagPushesStatusBack(t *testing.T) {
	gdb := openTestDB(t)
	remote := &fakeTagPusher{subscriber: &botconversa.Subscriber{
		ID:    7,
		Phone: "5511999990000",
		Tags:  []string{"Aguardando pagamento"},
	}}
	svc, err := NewStatusSyncService(gdb, statusRules(), remote)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusProposal)

	require.NoError(t, svc.ApplyTag(context.Background(), lead, "Matriculado", true))

	// New status tag added, previous status tag removed, mirror field set.
	assert.Equal(t, []string{"Matriculado"}, remote.addedTags)
	assert.Equal(t, []string{"Aguardando pagamento"}, remote.removedTags)
	assert.Equal(t, models.LeadStatusWon, remote.customFields[CRMStatusField])
}

func TestApplyFirstMatchUsesFirstMappedTag(t *testing.T) {
	gdb := openTestDB(t)
	svc, err := NewStatusSyncService(gdb, statusRules(), nil)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusNew)

	require.NoError(t, svc.ApplyFirstMatch(context.Background(), lead, []string{"Suporte", "Aguardando pagamento", "Matriculado"}, false))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusProposal, reloaded.Status)
}

func TestReapplyAfterRemovalFallsBackToRemainingTags(t *testing.T) {
	gdb := openTestDB(t)
	svc, err := NewStatusSyncService(gdb, statusRules(), nil)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusWon)

	require.NoError(t, svc.ReapplyAfterRemoval(context.Background(), lead, "Matriculado", []string{"Aguardando pagamento"}, false))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusProposal, reloaded.Status)
}

func TestReapplyAfterRemovalIgnoresUnrelatedTag(t *testing.T) {
	gdb := openTestDB(t)
	svc, err := NewStatusSyncService(gdb, statusRules(), nil)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusWon)

	// Removed tag did not produce the current status; nothing changes.
	require.NoError(t, svc.ReapplyAfterRemoval(context.Background(), lead, "Aguardando pagamento", nil, false))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusWon, reloaded.Status)
}

func TestPushBackSuppressedWhenDisabled(t *testing.T) {
	gdb := openTestDB(t)
	remote := &fakeTagPusher{subscriber: &botconversa.Subscriber{ID: 7, Phone: "5511999990000"}}
	svc, err := NewStatusSyncService(gdb, statusRules(), remote)
	require.NoError(t, err)
	lead := createLead(t, gdb, models.LeadStatusNew)

	// The periodic sync path passes pushBack=false; no remote traffic.
	require.NoError(t, svc.ApplyTag(context.Background(), lead, "Matriculado", false))
	assert.Empty(t, remote.addedTags)
	assert.Empty(t, remote.removedTags)
	assert.Empty(t, remote.customFields)
}
