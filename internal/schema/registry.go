package schema

import "fmt"

// Table names.
const (
	Predictions     = "predictions"
	Schedules       = "schedules"
	Standings       = "standings"
	Teams           = "teams"
	RegionLeague    = "region_league"
	SiteMatches     = "fb_matches"
	AccuracyReports = "accuracy_reports"
	AuditLog        = "audit_log"
	Profiles        = "profiles"
	CustomRules     = "custom_rules"
	RuleExecutions  = "rule_executions"
)

var tables = []Table{
	{
		Name: Predictions,
		File: "predictions.csv",
		Key:  "fixture_id",
		Columns: []string{
			"fixture_id", "date", "match_time", "region_league", "home_team", "away_team",
			"home_team_id", "away_team_id", "prediction", "confidence", "reason",
			"xg_home", "xg_away", "btts", "over_2.5", "best_score", "top_scores",
			"home_form_n", "away_form_n", "home_tags", "away_tags", "h2h_tags",
			"standings_tags", "h2h_count", "form_count", "actual_score", "outcome_correct",
			"generated_at", "status", "match_link", "odds", "market_reliability_score",
			"home_crest_url", "away_crest_url", "is_recommended", "recommendation_score",
			"h2h_fixture_ids", "form_fixture_ids", "standings_snapshot", "league_id",
			"league_stage", LastUpdated,
		},
	},
	{
		Name: Schedules,
		File: "schedules.csv",
		Key:  "fixture_id",
		Columns: []string{
			"fixture_id", "date", "match_time", "region_league", "league_id",
			"home_team", "away_team", "home_team_id", "away_team_id",
			"home_score", "away_score", "match_status", "match_link", "league_stage",
			LastUpdated,
		},
	},
	{
		Name: Standings,
		File: "standings.csv",
		Key:  "standings_key",
		Columns: []string{
			"standings_key", "league_id", "team_id", "team_name", "position", "played",
			"wins", "draws", "losses", "goals_for", "goals_against", "goal_difference",
			"points", "url", "region_league", LastUpdated,
		},
	},
	{
		Name: Teams,
		File: "teams.csv",
		Key:  "team_id",
		Columns: []string{
			"team_id", "team_name", "rl_ids", "team_crest", "team_url", LastUpdated,
		},
	},
	{
		Name: RegionLeague,
		File: "region_league.csv",
		Key:  "rl_id",
		Columns: []string{
			"rl_id", "region", "region_flag", "region_url", "league", "league_crest",
			"league_url", "date_updated", LastUpdated,
		},
	},
	{
		Name: SiteMatches,
		File: "fb_matches.csv",
		Key:  "site_match_id",
		Columns: []string{
			"site_match_id", "date", "time", "home_team", "away_team", "league", "url",
			"last_extracted", "fixture_id", "matched", "odds", "booking_status",
			"booking_details", "booking_code", "booking_url", "status", LastUpdated,
		},
	},
	{
		Name: AccuracyReports,
		File: "accuracy_reports.csv",
		Key:  "report_id",
		Columns: []string{
			"report_id", "timestamp", "volume", "win_rate", "return_pct", "period", LastUpdated,
		},
	},
	{
		Name: AuditLog,
		File: "audit_log.csv",
		Key:  "id",
		Columns: []string{
			"id", "timestamp", "event_type", "description", "balance_before",
			"balance_after", "stake", "status",
		},
		AppendOnly: true,
	},
	{
		Name: Profiles,
		File: "profiles.csv",
		Key:  "id",
		Columns: []string{
			"id", "email", "username", "full_name", "avatar_url", "tier", "credits",
			"created_at", "updated_at", LastUpdated,
		},
	},
	{
		Name: CustomRules,
		File: "custom_rules.csv",
		Key:  "id",
		Columns: []string{
			"id", "user_id", "name", "description", "is_active", "logic", "priority",
			"created_at", "updated_at", LastUpdated,
		},
	},
	{
		Name: RuleExecutions,
		File: "rule_executions.csv",
		Key:  "id",
		Columns: []string{
			"id", "rule_id", "fixture_id", "user_id", "result", "executed_at", LastUpdated,
		},
	},
}

// DefaultSynced lists the tables kept in parity with the remote store
// unless configuration says otherwise.
var DefaultSynced = []string{Predictions, Schedules, Teams, RegionLeague}

var byName = func() map[string]Table {
	m := make(map[string]Table, len(tables))
	for _, t := range tables {
		m[t.Name] = t
	}
	return m
}()

// Lookup returns the table registered under name.
func Lookup(name string) (Table, bool) {
	t, ok := byName[name]
	return t, ok
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Table {
	t, ok := byName[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown table %q", name))
	}
	return t
}

// All returns every registered table in registry order.
func All() []Table {
	out := make([]Table, len(tables))
	copy(out, tables)
	return out
}

// Resolve maps table names to registry entries, rejecting unknown names.
func Resolve(names []string) ([]Table, error) {
	out := make([]Table, 0, len(names))
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown table %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// Synced returns the default sync set.
func Synced() []Table {
	out, _ := Resolve(DefaultSynced)
	return out
}
