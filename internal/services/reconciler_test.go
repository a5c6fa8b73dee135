package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

func TestReconcileCreatesLeadAndConversation(t *testing.T) {
	gdb := openTestDB(t)
	carla := models.User{Name: "Carla", Email: "carla@eduzayn.com.br", Team: "Comercial", Active: true}
	require.NoError(t, gdb.Create(&carla).Error)
	reconciler := newTestReconciler(t, gdb)

	result, err := reconciler.Reconcile(context.Background(), Contact{
		Phone: "+55 (11) 99999-0000",
		Name:  "Maria Silva",
		Email: "maria@example.com",
		Tags:  []string{"Aguardando pagamento"},
	})
	require.NoError(t, err)

	require.True(t, result.CreatedLead)
	assert.Equal(t, models.LeadStatusNew, result.Lead.Status)
	assert.Equal(t, "Comercial", result.Lead.Team)
	assert.Equal(t, models.SourceBotConversa, result.Lead.Source)
	assert.Equal(t, "5511999990000", result.Lead.Phone)
	require.NotNil(t, result.Lead.AttendantID)
	assert.Equal(t, carla.ID, *result.Lead.AttendantID)

	require.True(t, result.CreatedConversation)
	assert.Equal(t, models.ConversationStatusActive, result.Conversation.Status)
	assert.Equal(t, result.Lead.ID, result.Conversation.LeadID)
	assert.Equal(t, "Maria Silva", result.Conversation.CustomerName)
	assert.Equal(t, "5511999990000", result.Conversation.CustomerPhone)
}

func TestReconcileIsIdempotent(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)
	contact := Contact{Phone: "5511999990000", Name: "Maria", Tags: []string{"Matriculado"}}

	first, err := reconciler.Reconcile(context.Background(), contact)
	require.NoError(t, err)
	second, err := reconciler.Reconcile(context.Background(), contact)
	require.NoError(t, err)

	assert.Equal(t, first.Lead.ID, second.Lead.ID)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.False(t, second.CreatedLead)
	assert.False(t, second.CreatedConversation)

	var leads, conversations int64
	require.NoError(t, gdb.Model(&models.Lead{}).Count(&leads).Error)
	require.NoError(t, gdb.Model(&models.Conversation{}).Count(&conversations).Error)
	assert.EqualValues(t, 1, leads)
	assert.EqualValues(t, 1, conversations)
}

func TestReconcileDoesNotResurrectLostLead(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)

	lost := models.Lead{Phone: "5511999990000", Team: "Comercial", Status: models.LeadStatusLost, Source: models.SourceBotConversa}
	require.NoError(t, gdb.Create(&lost).Error)

	result, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000", Name: "Maria"})
	require.NoError(t, err)

	assert.True(t, result.CreatedLead)
	assert.NotEqual(t, lost.ID, result.Lead.ID)
	assert.Equal(t, models.LeadStatusNew, result.Lead.Status)

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, lost.ID).Error)
	assert.Equal(t, models.LeadStatusLost, reloaded.Status)
}

func TestReconcileDoesNotReuseClosedConversation(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)

	first, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000", Name: "Maria"})
	require.NoError(t, err)
	require.NoError(t, gdb.Model(first.Conversation).Updates(map[string]interface{}{
		"status":       models.ConversationStatusClosed,
		"close_reason": models.CloseReasonAgent,
	}).Error)

	second, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000", Name: "Maria"})
	require.NoError(t, err)
	assert.True(t, second.CreatedConversation)
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, models.ConversationStatusActive, second.Conversation.Status)
}

func TestReconcileSurfacesDuplicateActiveConversations(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)

	lead := models.Lead{Phone: "5511999990000", Team: "Comercial", Status: models.LeadStatusNew}
	require.NoError(t, gdb.Create(&lead).Error)
	for i := 0; i < 2; i++ {
		require.NoError(t, gdb.Create(&models.Conversation{
			LeadID:        lead.ID,
			CustomerPhone: "5511999990000",
			Status:        models.ConversationStatusActive,
		}).Error)
	}

	_, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReconciliationConflict))
}

func TestReconcileSerializesConcurrentCallsPerPhone(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000", Name: "Maria"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var leads, conversations int64
	require.NoError(t, gdb.Model(&models.Lead{}).Count(&leads).Error)
	require.NoError(t, gdb.Model(&models.Conversation{}).Count(&conversations).Error)
	assert.EqualValues(t, 1, leads)
	assert.EqualValues(t, 1, conversations)
}

func TestReconcileRejectsMalformedPhone(t *testing.T) {
	reconciler := newTestReconciler(t, openTestDB(t))
	_, err := reconciler.Reconcile(context.Background(), Contact{Phone: "not-a-phone"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, botconversa.ErrInvalidPhoneFormat))
}

func TestUpdateLeadContactRefreshesOnlyContactFields(t *testing.T) {
	gdb := openTestDB(t)
	reconciler := newTestReconciler(t, gdb)

	result, err := reconciler.Reconcile(context.Background(), Contact{Phone: "5511999990000", Name: "Maria"})
	require.NoError(t, err)
	require.NoError(t, gdb.Model(result.Lead).Update("status", models.LeadStatusQualified).Error)

	require.NoError(t, reconciler.UpdateLeadContact(context.Background(), "5511999990000", "Maria Souza", "maria.souza@example.com"))

	var reloaded models.Lead
	require.NoError(t, gdb.First(&reloaded, result.Lead.ID).Error)
	assert.Equal(t, "Maria Souza", reloaded.Name)
	assert.Equal(t, "maria.souza@example.com", reloaded.Email)
	assert.Equal(t, models.LeadStatusQualified, reloaded.Status)
	assert.Equal(t, "Comercial", reloaded.Team)
}
