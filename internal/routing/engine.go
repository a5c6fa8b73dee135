package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

// Engine maps subscriber tags to departments and departments to attendants.
// Rules are static configuration loaded at process start; only the attendant
// directory is a live lookup.
type Engine struct {
	rules             []config.TagRule
	defaultDepartment string
	attendants        map[string][]string
	db                *gorm.DB
}

// NewEngine creates a routing engine from the configured rule tables.
func NewEngine(cfg *config.Config, gdb *gorm.DB) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if gdb == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if cfg.DefaultDepartment == "" {
		return nil, fmt.Errorf("default department cannot be empty")
	}
	return &Engine{
		rules:             cfg.TagDepartments,
		defaultDepartment: cfg.DefaultDepartment,
		attendants:        cfg.DepartmentAttendants,
		db:                gdb,
	}, nil
}

// RouteDepartment returns the department bound to the first subscriber tag
// that has a routing rule, in the order the platform supplied the tags.
// Unmapped tags are skipped; no match falls back to the default department.
// First match wins: a subscriber may carry several mapped tags and still
// resolve unambiguously.
func (e *Engine) RouteDepartment(tags []string) string {
	for _, tag := range tags {
		for _, rule := range e.rules {
			if rule.Tag == tag {
				return rule.Department
			}
		}
	}
	return e.defaultDepartment
}

// FindAttendant resolves the department's configured contact emails against
// the local user directory. The first configured email that maps to an
// existing active user wins. Returns nil when none resolve; routing never
// blocks ingestion on a missing attendant.
func (e *Engine) FindAttendant(ctx context.Context, department string) (*models.User, error) {
	emails := e.attendants[department]
	for _, email := range emails {
		var user models.User
		err := e.db.WithContext(ctx).
			Where("email = ? AND active = ?", email, true).
			First(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("error querying attendant directory: %w", err)
		}
	}
	if len(emails) > 0 {
		log.Warn().Str("department", department).Msg("No configured attendant email resolved to an active user")
	}
	return nil, nil
}

// DefaultDepartment returns the fallback department name.
func (e *Engine) DefaultDepartment() string {
	return e.defaultDepartment
}
