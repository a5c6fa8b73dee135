package services

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/routing"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.User{}, &models.Lead{}, &models.Conversation{}, &models.Message{}))
	return gdb
}

func testRoutingConfig() *config.Config {
	return &config.Config{
		TagDepartments: []config.TagRule{
			{Tag: "Matriculado", Department: "Secretaria"},
			{Tag: "Aguardando pagamento", Department: "Comercial"},
		},
		DefaultDepartment: "Comercial",
		DepartmentAttendants: map[string][]string{
			"Comercial": {"carla@eduzayn.com.br"},
		},
	}
}

func newTestReconciler(t *testing.T, gdb *gorm.DB) *Reconciler {
	t.Helper()
	engine, err := routing.NewEngine(testRoutingConfig(), gdb)
	require.NoError(t, err)
	reconciler, err := NewReconciler(gdb, engine, NewKeyedMutex())
	require.NoError(t, err)
	return reconciler
}
