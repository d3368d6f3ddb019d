package types

import (
	"encoding/json"
	"time"
)

// Prediction is a generated match prediction.
type Prediction struct {
	FixtureID    string            `csv:"fixture_id" json:"fixture_id"`
	Date         string            `csv:"date" json:"date"`
	MatchTime    string            `csv:"match_time" json:"match_time"`
	RegionLeague string            `csv:"region_league" json:"region_league"`
	HomeTeam     string            `csv:"home_team" json:"home_team"`
	AwayTeam     string            `csv:"away_team" json:"away_team"`
	Prediction   string            `csv:"prediction" json:"prediction"`
	Confidence   string            `csv:"confidence" json:"confidence"`
	Reason       string            `csv:"reason" json:"reason"`
	Over25       string            `csv:"over_2.5" json:"over_2.5"`
	ActualScore  string            `csv:"actual_score" json:"actual_score"`
	Status       string            `csv:"status" json:"status"`
	GeneratedAt  string            `csv:"generated_at" json:"generated_at"`
	LastUpdated  string            `csv:"last_updated" json:"last_updated"`
	Extra        map[string]string `csv:"-" json:"extra,omitempty"`
}

// Schedule is a fixture on the match calendar.
type Schedule struct {
	FixtureID    string            `csv:"fixture_id" json:"fixture_id"`
	Date         string            `csv:"date" json:"date"`
	MatchTime    string            `csv:"match_time" json:"match_time"`
	RegionLeague string            `csv:"region_league" json:"region_league"`
	LeagueID     string            `csv:"league_id" json:"league_id"`
	HomeTeam     string            `csv:"home_team" json:"home_team"`
	AwayTeam     string            `csv:"away_team" json:"away_team"`
	HomeTeamID   string            `csv:"home_team_id" json:"home_team_id"`
	AwayTeamID   string            `csv:"away_team_id" json:"away_team_id"`
	HomeScore    string            `csv:"home_score" json:"home_score"`
	AwayScore    string            `csv:"away_score" json:"away_score"`
	MatchStatus  string            `csv:"match_status" json:"match_status"`
	MatchLink    string            `csv:"match_link" json:"match_link"`
	LeagueStage  string            `csv:"league_stage" json:"league_stage"`
	LastUpdated  string            `csv:"last_updated" json:"last_updated"`
	Extra        map[string]string `csv:"-" json:"extra,omitempty"`
}

// Team is a club known to the system.
type Team struct {
	TeamID      string            `csv:"team_id" json:"team_id"`
	TeamName    string            `csv:"team_name" json:"team_name"`
	RLIDs       string            `csv:"rl_ids" json:"rl_ids"` // ';'-separated region_league ids
	TeamCrest   string            `csv:"team_crest" json:"team_crest"`
	TeamURL     string            `csv:"team_url" json:"team_url"`
	LastUpdated string            `csv:"last_updated" json:"last_updated"`
	Extra       map[string]string `csv:"-" json:"extra,omitempty"`
}

// RegionLeague is a competition within a region.
type RegionLeague struct {
	RLID        string            `csv:"rl_id" json:"rl_id"`
	Region      string            `csv:"region" json:"region"`
	RegionFlag  string            `csv:"region_flag" json:"region_flag"`
	RegionURL   string            `csv:"region_url" json:"region_url"`
	League      string            `csv:"league" json:"league"`
	LeagueCrest string            `csv:"league_crest" json:"league_crest"`
	LeagueURL   string            `csv:"league_url" json:"league_url"`
	DateUpdated string            `csv:"date_updated" json:"date_updated"`
	LastUpdated string            `csv:"last_updated" json:"last_updated"`
	Extra       map[string]string `csv:"-" json:"extra,omitempty"`
}

// Standing is one team's row in a league table.
type Standing struct {
	StandingsKey   string            `csv:"standings_key" json:"standings_key"`
	LeagueID       string            `csv:"league_id" json:"league_id"`
	TeamID         string            `csv:"team_id" json:"team_id"`
	TeamName       string            `csv:"team_name" json:"team_name"`
	Position       string            `csv:"position" json:"position"`
	Played         string            `csv:"played" json:"played"`
	Wins           string            `csv:"wins" json:"wins"`
	Draws          string            `csv:"draws" json:"draws"`
	Losses         string            `csv:"losses" json:"losses"`
	GoalsFor       string            `csv:"goals_for" json:"goals_for"`
	GoalsAgainst   string            `csv:"goals_against" json:"goals_against"`
	GoalDifference string            `csv:"goal_difference" json:"goal_difference"`
	Points         string            `csv:"points" json:"points"`
	URL            string            `csv:"url" json:"url"`
	RegionLeague   string            `csv:"region_league" json:"region_league"`
	LastUpdated    string            `csv:"last_updated" json:"last_updated"`
	Extra          map[string]string `csv:"-" json:"extra,omitempty"`
}

// SiteMatch is a fixture as listed on the betting site.
type SiteMatch struct {
	SiteMatchID    string            `csv:"site_match_id" json:"site_match_id"`
	Date           string            `csv:"date" json:"date"`
	Time           string            `csv:"time" json:"time"`
	HomeTeam       string            `csv:"home_team" json:"home_team"`
	AwayTeam       string            `csv:"away_team" json:"away_team"`
	League         string            `csv:"league" json:"league"`
	URL            string            `csv:"url" json:"url"`
	LastExtracted  string            `csv:"last_extracted" json:"last_extracted"`
	FixtureID      string            `csv:"fixture_id" json:"fixture_id"`
	Matched        string            `csv:"matched" json:"matched"`
	Odds           string            `csv:"odds" json:"odds"`
	BookingStatus  string            `csv:"booking_status" json:"booking_status"`
	BookingDetails string            `csv:"booking_details" json:"booking_details"`
	BookingCode    string            `csv:"booking_code" json:"booking_code"`
	BookingURL     string            `csv:"booking_url" json:"booking_url"`
	Status         string            `csv:"status" json:"status"`
	LastUpdated    string            `csv:"last_updated" json:"last_updated"`
	Extra          map[string]string `csv:"-" json:"extra,omitempty"`
}

// AuditEvent is one append-only entry of the audit log.
type AuditEvent struct {
	ID            string            `csv:"id" json:"id"`
	Timestamp     string            `csv:"timestamp" json:"timestamp"`
	EventType     string            `csv:"event_type" json:"event_type"`
	Description   string            `csv:"description" json:"description"`
	BalanceBefore string            `csv:"balance_before" json:"balance_before"`
	BalanceAfter  string            `csv:"balance_after" json:"balance_after"`
	Stake         string            `csv:"stake" json:"stake"`
	Status        string            `csv:"status" json:"status"`
	Extra         map[string]string `csv:"-" json:"extra,omitempty"`
}

// Audit event types written by the sync service.
const (
	EventSystemSync = "SYSTEM_SYNC"
)

// AuditTimestampLayout is the audit log timestamp format.
const AuditTimestampLayout = "2006-01-02 15:04:05"

// TimestampLayout is the layout of last_updated and other generated
// timestamps: RFC 3339 with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp formats t in TimestampLayout, always in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// TableResult is the outcome of syncing a single table.
type TableResult struct {
	Table            string        `json:"table"`
	State            string        `json:"state"`
	Pulled           int           `json:"pulled"`
	Pushed           int           `json:"pushed"`
	ParityChecked    int           `json:"parity_checked"`
	ParityMismatches int           `json:"parity_mismatches"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// OK reports whether the table reached DONE.
func (r TableResult) OK() bool {
	return r.Error == ""
}

// RunResult is the outcome of one orchestrated sync run.
type RunResult struct {
	Label      string        `json:"label"`
	Status     string        `json:"status"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Errors     []string      `json:"errors"`
	Tables     []TableResult `json:"tables"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// MarshalJSON ensures nil slices in RunResult marshal as [] not null.
func (r RunResult) MarshalJSON() ([]byte, error) {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Tables == nil {
		r.Tables = []TableResult{}
	}
	type Alias RunResult
	return json.Marshal(Alias(r))
}

// TableInfo describes a local table file for listing.
type TableInfo struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	Key       string   `json:"key"`
	Synced    bool     `json:"synced"`
	Exists    bool     `json:"exists"`
	Rows      int      `json:"rows"`
	SizeBytes int64    `json:"size_bytes"`
	Columns   []string `json:"columns"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	RemoteDriver string     `json:"remote_driver"`
	SyncEnabled  bool       `json:"sync_enabled"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
}

// SyncRequest is the body of a manual sync trigger.
type SyncRequest struct {
	Label string `json:"label"`
}
