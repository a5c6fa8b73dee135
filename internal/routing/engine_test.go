package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.User{}))
	return gdb
}

func testConfig() *config.Config {
	return &config.Config{
		TagDepartments: []config.TagRule{
			{Tag: "Matriculado", Department: "Secretaria"},
			{Tag: "Aguardando pagamento", Department: "Comercial"},
			{Tag: "Certificado", Department: "Documentacao"},
		},
		DefaultDepartment: "Comercial",
		DepartmentAttendants: map[string][]string{
			"Secretaria": {"ana@eduzayn.com.br", "bruno@eduzayn.com.br"},
			"Comercial":  {"carla@eduzayn.com.br"},
		},
	}
}

func TestRouteDepartmentFirstMatchWins(t *testing.T) {
	engine, err := NewEngine(testConfig(), openTestDB(t))
	require.NoError(t, err)

	// "Suporte" has no rule; the first mapped tag decides.
	assert.Equal(t, "Secretaria", engine.RouteDepartment([]string{"Suporte", "Matriculado"}))
	// Tag order from the platform is authoritative.
	assert.Equal(t, "Comercial", engine.RouteDepartment([]string{"Aguardando pagamento", "Matriculado"}))
	assert.Equal(t, "Secretaria", engine.RouteDepartment([]string{"Matriculado", "Aguardando pagamento"}))
}

func TestRouteDepartmentFallsBackToDefault(t *testing.T) {
	engine, err := NewEngine(testConfig(), openTestDB(t))
	require.NoError(t, err)

	assert.Equal(t, "Comercial", engine.RouteDepartment(nil))
	assert.Equal(t, "Comercial", engine.RouteDepartment([]string{"Suporte", "VIP"}))
}

func TestFindAttendantPicksFirstResolvingEmail(t *testing.T) {
	gdb := openTestDB(t)
	engine, err := NewEngine(testConfig(), gdb)
	require.NoError(t, err)

	// ana exists but is inactive; bruno is the first active match.
	require.NoError(t, gdb.Create(&models.User{Name: "Ana", Email: "ana@eduzayn.com.br", Team: "Secretaria", Active: false}).Error)
	bruno := models.User{Name: "Bruno", Email: "bruno@eduzayn.com.br", Team: "Secretaria", Active: true}
	require.NoError(t, gdb.Create(&bruno).Error)

	user, err := engine.FindAttendant(context.Background(), "Secretaria")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, bruno.ID, user.ID)
}

func TestFindAttendantReturnsNilWhenNoneResolve(t *testing.T) {
	engine, err := NewEngine(testConfig(), openTestDB(t))
	require.NoError(t, err)

	user, err := engine.FindAttendant(context.Background(), "Comercial")
	require.NoError(t, err)
	assert.Nil(t, user)

	// Unknown department has no configured emails at all.
	user, err = engine.FindAttendant(context.Background(), "Financeiro")
	require.NoError(t, err)
	assert.Nil(t, user)
}
