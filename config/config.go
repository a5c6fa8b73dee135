package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Account identifies one BotConversa account the sync runs against.
type Account struct {
	Name   string
	APIKey string
}

// TagRule binds a subscriber tag to a department. Order matters: the routing
// engine applies the first rule whose tag appears on the subscriber.
type TagRule struct {
	Tag        string
	Department string
}

// StatusRule binds a subscriber tag to a lead status.
type StatusRule struct {
	Tag    string
	Status string
}

// Config holds all configuration for the sync service.
type Config struct {
	BotConversaBaseURL string
	Accounts           []Account

	DatabaseURL string
	Port        string
	WebhookPath string

	SyncInterval           time.Duration
	SyncWorkers            int
	ConversationStaleAfter time.Duration

	PhoneRateLimit  int
	PhoneRateWindow time.Duration

	TagDepartments       []TagRule
	DefaultDepartment    string
	DepartmentAttendants map[string][]string
	StatusTags           []StatusRule
}

// LoadConfig loads configuration from environment variables, with a .env file
// overlay when present. Environment variables take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		BotConversaBaseURL: os.Getenv("BOTCONVERSA_BASE_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               os.Getenv("PORT"),
		WebhookPath:        os.Getenv("WEBHOOK_PATH"),
		DefaultDepartment:  os.Getenv("ROUTING_DEFAULT_DEPARTMENT"),
	}

	if cfg.BotConversaBaseURL == "" {
		cfg.BotConversaBaseURL = "https://backend.botconversa.com.br"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/botconversa"
		log.Info().Str("path", cfg.WebhookPath).Msg("WEBHOOK_PATH not set, using default")
	}
	if cfg.DefaultDepartment == "" {
		cfg.DefaultDepartment = "Comercial"
	}

	accounts, err := parseAccounts(os.Getenv("BOTCONVERSA_ACCOUNTS"), os.Getenv("BOTCONVERSA_API_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	cfg.SyncInterval, err = parseDuration("SYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.ConversationStaleAfter, err = parseDuration("CONVERSATION_STALE_AFTER", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.PhoneRateWindow, err = parseDuration("PHONE_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.SyncWorkers = parseInt("SYNC_WORKERS", 4)
	cfg.PhoneRateLimit = parseInt("PHONE_RATE_LIMIT", 60)

	cfg.TagDepartments, err = parseTagRules(os.Getenv("ROUTING_TAG_DEPARTMENTS"))
	if err != nil {
		return nil, err
	}
	cfg.StatusTags, err = parseStatusRules(os.Getenv("STATUS_TAG_MAP"))
	if err != nil {
		return nil, err
	}
	cfg.DepartmentAttendants, err = parseDepartmentAttendants(os.Getenv("ROUTING_DEPARTMENT_ATTENDANTS"))
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("accounts", len(cfg.Accounts)).
		Int("tagRules", len(cfg.TagDepartments)).
		Int("statusRules", len(cfg.StatusTags)).
		Str("defaultDepartment", cfg.DefaultDepartment).
		Msg("Configuration loaded")
	return cfg, nil
}

// parseAccounts accepts BOTCONVERSA_ACCOUNTS as "name:apikey,name2:apikey2".
// A bare BOTCONVERSA_API_KEY is treated as a single account named "default".
func parseAccounts(accountsStr, singleKey string) ([]Account, error) {
	var accounts []Account
	if accountsStr != "" {
		for _, entry := range strings.Split(accountsStr, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			name, key, ok := strings.Cut(entry, ":")
			if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("invalid BOTCONVERSA_ACCOUNTS entry %q, expected name:apikey", entry)
			}
			accounts = append(accounts, Account{Name: strings.TrimSpace(name), APIKey: strings.TrimSpace(key)})
		}
	} else if singleKey != "" {
		accounts = append(accounts, Account{Name: "default", APIKey: singleKey})
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no BotConversa account configured, set BOTCONVERSA_API_KEY or BOTCONVERSA_ACCOUNTS")
	}
	return accounts, nil
}

// parseTagRules accepts "Tag:Department,Tag2:Department2". Entry order is
// preserved because routing is first match wins.
func parseTagRules(s string) ([]TagRule, error) {
	var rules []TagRule
	for _, entry := range splitList(s, ",") {
		tag, dept, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(tag) == "" || strings.TrimSpace(dept) == "" {
			return nil, fmt.Errorf("invalid ROUTING_TAG_DEPARTMENTS entry %q, expected Tag:Department", entry)
		}
		rules = append(rules, TagRule{Tag: strings.TrimSpace(tag), Department: strings.TrimSpace(dept)})
	}
	return rules, nil
}

// parseStatusRules accepts "Tag:status,Tag2:status2".
func parseStatusRules(s string) ([]StatusRule, error) {
	var rules []StatusRule
	for _, entry := range splitList(s, ",") {
		tag, status, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(tag) == "" || strings.TrimSpace(status) == "" {
			return nil, fmt.Errorf("invalid STATUS_TAG_MAP entry %q, expected Tag:status", entry)
		}
		rules = append(rules, StatusRule{Tag: strings.TrimSpace(tag), Status: strings.TrimSpace(status)})
	}
	return rules, nil
}

// parseDepartmentAttendants accepts "Dept=a@x.com,b@x.com;Dept2=c@x.com".
// Email order within a department is preserved: the first configured email
// that resolves to an active user wins.
func parseDepartmentAttendants(s string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, entry := range splitList(s, ";") {
		dept, emails, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(dept) == "" {
			return nil, fmt.Errorf("invalid ROUTING_DEPARTMENT_ATTENDANTS entry %q, expected Department=email,email", entry)
		}
		for _, email := range splitList(emails, ",") {
			out[strings.TrimSpace(dept)] = append(out[strings.TrimSpace(dept)], email)
		}
	}
	return out, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func parseInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str(key, v).Int("default", def).Msg("Invalid integer value, using default")
		return def
	}
	return n
}
