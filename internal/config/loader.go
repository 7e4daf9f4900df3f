package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the booking
// engine.
type Config struct {
	HTTPPort         int
	SQLiteDSN        string
	TokenSecret      string
	OfferWindow      time.Duration
	ApprovalDeadline time.Duration
	CheckInGrace     time.Duration
	SweepInterval    time.Duration
	Approvers        map[string][]string
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults; required values and malformed
// entries are reported together so a broken deployment fails with one
// actionable message.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:         8080,
		SQLiteDSN:        "file:labbooking.db",
		OfferWindow:      30 * time.Minute,
		ApprovalDeadline: 48 * time.Hour,
		CheckInGrace:     15 * time.Minute,
		SweepInterval:    time.Minute,
		Approvers:        map[string][]string{},
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("LABBOOKING_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "LABBOOKING_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("LABBOOKING_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if secret := strings.TrimSpace(os.Getenv("LABBOOKING_TOKEN_SECRET")); secret == "" {
		missing = append(missing, "LABBOOKING_TOKEN_SECRET")
	} else {
		cfg.TokenSecret = secret
	}

	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"LABBOOKING_OFFER_WINDOW", &cfg.OfferWindow},
		{"LABBOOKING_APPROVAL_DEADLINE", &cfg.ApprovalDeadline},
		{"LABBOOKING_CHECKIN_GRACE", &cfg.CheckInGrace},
		{"LABBOOKING_SWEEP_INTERVAL", &cfg.SweepInterval},
	}
	for _, entry := range durations {
		value := strings.TrimSpace(os.Getenv(entry.name))
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, entry.name)
			continue
		}
		*entry.target = parsed
	}

	if approvers := strings.TrimSpace(os.Getenv("LABBOOKING_APPROVERS")); approvers != "" {
		parsed, err := parseApprovers(approvers)
		if err != nil {
			invalid = append(invalid, "LABBOOKING_APPROVERS")
		} else {
			cfg.Approvers = parsed
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// parseApprovers reads the role membership map from a string shaped like
// "technician=tina|tom,sysadmin=sam". Roles are comma separated, members
// pipe separated.
func parseApprovers(value string) (map[string][]string, error) {
	members := make(map[string][]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		role, ids, ok := strings.Cut(pair, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("malformed approver entry %q", pair)
		}
		for _, id := range strings.Split(ids, "|") {
			id = strings.TrimSpace(id)
			if id != "" {
				members[role] = append(members[role], id)
			}
		}
		if len(members[role]) == 0 {
			return nil, fmt.Errorf("approver role %q has no members", role)
		}
	}
	return members, nil
}
