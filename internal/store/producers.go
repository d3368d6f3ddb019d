package store

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/types"
)

// InitTables creates every registered table file that is missing or empty,
// writing only the header. Returns the names of the tables created.
func (s *Store) InitTables() ([]string, error) {
	var created []string
	for _, t := range schema.All() {
		path := s.Path(t)
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			continue
		}
		if err := s.Rewrite(t, nil, nil); err != nil {
			return created, err
		}
		s.logger.Info("table initialized", "table", t.Name, "path", path)
		created = append(created, t.Name)
	}
	return created, nil
}

// SavePrediction upserts a prediction keyed by fixture_id. New predictions
// default to status "pending".
func (s *Store) SavePrediction(p types.Prediction) error {
	now := s.Now()
	if p.Status == "" {
		p.Status = "pending"
	}
	if p.GeneratedAt == "" {
		p.GeneratedAt = now
	}
	p.LastUpdated = now
	return s.upsertTyped(schema.MustLookup(schema.Predictions), &p)
}

// UpdatePredictionStatus sets status on the prediction matching both
// fixtureID and date. Extra fields are applied only when the column already
// exists on the row. Returns whether a row was updated.
func (s *Store) UpdatePredictionStatus(fixtureID, date, status string, fields map[string]string) (bool, error) {
	now := s.Now()
	n, err := s.Update(schema.MustLookup(schema.Predictions),
		func(r types.Record) bool {
			return r["fixture_id"] == fixtureID && r["date"] == date
		},
		func(r types.Record) bool {
			r["status"] = status
			for k, v := range fields {
				if _, ok := r[k]; ok {
					r[k] = v
				}
			}
			r[schema.LastUpdated] = now
			return true
		},
	)
	return n > 0, err
}

// placeholder reports whether v carries no real information.
func placeholder(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "Unknown", "unknown", "N/A":
		return true
	}
	return false
}

// BackfillPrediction fills fields of an existing prediction that are blank
// or placeholders, never overwriting analysis data. Returns whether
// anything changed.
func (s *Store) BackfillPrediction(fixtureID string, updates map[string]string) (bool, error) {
	if fixtureID == "" || len(updates) == 0 {
		return false, nil
	}
	now := s.Now()
	n, err := s.Update(schema.MustLookup(schema.Predictions),
		func(r types.Record) bool { return r["fixture_id"] == fixtureID },
		func(r types.Record) bool {
			changed := false
			for k, v := range updates {
				cur, ok := r[k]
				if !ok || v == "" || !placeholder(cur) {
					continue
				}
				r[k] = v
				changed = true
			}
			if changed {
				r[schema.LastUpdated] = now
			}
			return changed
		},
	)
	return n > 0, err
}

// SaveSchedule upserts a fixture keyed by fixture_id.
func (s *Store) SaveSchedule(sc types.Schedule) error {
	sc.LastUpdated = s.Now()
	return s.upsertTyped(schema.MustLookup(schema.Schedules), &sc)
}

// SaveStandings upserts league table rows. The league id falls back to
// the row's own league_id and then to the part of regionLeague after
// " - ". Rows without both team and league ids are skipped. Returns the
// number of rows saved.
func (s *Store) SaveStandings(rows []types.Standing, regionLeague, leagueID string) (int, error) {
	t := schema.MustLookup(schema.Standings)
	now := s.Now()
	saved := 0
	for _, row := range rows {
		if regionLeague != "" {
			row.RegionLeague = regionLeague
		} else if row.RegionLeague == "" {
			row.RegionLeague = "Unknown"
		}
		row.LastUpdated = now

		lid := leagueID
		if lid == "" {
			lid = row.LeagueID
		}
		if lid == "" && strings.Contains(regionLeague, " - ") {
			lid = strings.ToUpper(strings.ReplaceAll(strings.SplitN(regionLeague, " - ", 2)[1], " ", "_"))
		}
		row.LeagueID = lid
		if row.TeamID == "" || lid == "" {
			continue
		}
		row.StandingsKey = strings.ToUpper(lid + "_" + row.TeamID)

		if err := s.upsertTyped(t, &row); err != nil {
			return saved, err
		}
		saved++
	}
	if saved > 0 {
		s.logger.Info("standings saved", "region_league", regionLeague, "count", saved)
	}
	return saved, nil
}

// RegionLeagueID derives a region_league id from its display names.
func RegionLeagueID(region, league string) string {
	id := region + "_" + league
	id = strings.NewReplacer(" ", "_", "-", "_").Replace(id)
	return strings.ToUpper(id)
}

// SaveRegionLeague upserts a competition, deriving rl_id when absent.
func (s *Store) SaveRegionLeague(rl types.RegionLeague) error {
	if rl.Region == "" {
		rl.Region = "Unknown"
	}
	if rl.League == "" {
		rl.League = "Unknown"
	}
	if rl.RLID == "" {
		rl.RLID = RegionLeagueID(rl.Region, rl.League)
	}
	rl.RegionFlag = StandardizeURL(rl.RegionFlag)
	rl.RegionURL = StandardizeURL(rl.RegionURL)
	rl.LeagueCrest = StandardizeURL(rl.LeagueCrest)
	rl.LeagueURL = StandardizeURL(rl.LeagueURL)
	now := s.Now()
	rl.DateUpdated = now
	rl.LastUpdated = now
	return s.upsertTyped(schema.MustLookup(schema.RegionLeague), &rl)
}

// SaveTeam upserts a team, merging its rl_ids with the stored set.
// Teams without an id are ignored.
func (s *Store) SaveTeam(team types.Team) error {
	if team.TeamID == "" || team.TeamID == "unknown" {
		return nil
	}
	t := schema.MustLookup(schema.Teams)

	existing, found, err := s.Find(t, team.TeamID)
	if err != nil {
		return err
	}
	if found {
		team.RLIDs = mergeIDList(existing["rl_ids"], team.RLIDs)
	}
	if team.TeamName == "" {
		team.TeamName = "Unknown"
	}
	team.TeamCrest = StandardizeURL(team.TeamCrest)
	team.TeamURL = StandardizeURL(team.TeamURL)
	team.LastUpdated = s.Now()
	return s.upsertTyped(t, &team)
}

func mergeIDList(existing, add string) string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range append(strings.Split(existing, ";"), strings.Split(add, ";")...) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return strings.Join(out, ";")
}

// SiteMatchID is the stable id of a betting-site fixture.
func SiteMatchID(date, home, away string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(strings.ToLower(date + "_" + home + "_" + away))))
	return hex.EncodeToString(sum[:])
}

// SaveSiteMatches upserts extracted betting-site fixtures. Returns the
// number saved.
func (s *Store) SaveSiteMatches(matches []types.SiteMatch) (int, error) {
	t := schema.MustLookup(schema.SiteMatches)
	now := s.Now()
	for i, m := range matches {
		m.SiteMatchID = SiteMatchID(m.Date, m.HomeTeam, m.AwayTeam)
		m.LastExtracted = now
		m.LastUpdated = now
		if m.Time == "" {
			m.Time = "N/A"
		}
		if m.Matched == "" {
			m.Matched = "No_fs_match_found"
		}
		if m.BookingStatus == "" {
			m.BookingStatus = "pending"
		}
		if err := s.upsertTyped(t, &m); err != nil {
			return i, err
		}
	}
	return len(matches), nil
}

// SiteMatchUpdate carries the optional fields of a booking status change.
type SiteMatchUpdate struct {
	FixtureID   string
	Details     string
	BookingCode string
	BookingURL  string
	Matched     string
	Odds        *string
}

// UpdateSiteMatchStatus records a booking status change on a site match.
func (s *Store) UpdateSiteMatchStatus(siteMatchID, status string, u SiteMatchUpdate) (bool, error) {
	now := s.Now()
	n, err := s.Update(schema.MustLookup(schema.SiteMatches),
		func(r types.Record) bool { return r["site_match_id"] == siteMatchID },
		func(r types.Record) bool {
			r["booking_status"] = status
			setIf(r, "status", status)
			setIf(r, "fixture_id", u.FixtureID)
			setIf(r, "booking_details", u.Details)
			setIf(r, "booking_code", u.BookingCode)
			setIf(r, "booking_url", u.BookingURL)
			setIf(r, "matched", u.Matched)
			if u.Odds != nil {
				r["odds"] = *u.Odds
			}
			r[schema.LastUpdated] = now
			return true
		},
	)
	return n > 0, err
}

func setIf(r types.Record, col, v string) {
	if v != "" {
		r[col] = v
	}
}

// LogAuditEvent appends an entry to the audit log. ID and Timestamp are
// filled when blank; Status defaults to "success".
func (s *Store) LogAuditEvent(ev types.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = s.now().Format(types.AuditTimestampLayout)
	}
	if ev.Status == "" {
		ev.Status = "success"
	}
	rec, err := types.Encode(&ev)
	if err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return s.Append(schema.MustLookup(schema.AuditLog), rec)
}

func (s *Store) upsertTyped(t schema.Table, v any) error {
	rec, err := types.Encode(v)
	if err != nil {
		return err
	}
	return s.Upsert(t, rec)
}

// StandardizeURL makes flashscore links absolute and gives team URLs a
// trailing slash. Empty, "N/A" and data: URLs pass through unchanged.
func StandardizeURL(u string) string {
	const base = "https://www.flashscore.com"
	if u == "" || u == "N/A" || strings.HasPrefix(u, "data:") {
		return u
	}
	if strings.HasPrefix(u, "/") {
		u = base + u
	}
	switch {
	case strings.Contains(u, "/team/") && !strings.Contains(u, base+"/team/"):
		parts := strings.Split(u, "team/")
		u = base + "/team/" + strings.Trim(parts[len(parts)-1], "/") + "/"
	case strings.Contains(u, "/team/") && !strings.HasSuffix(u, "/"):
		u += "/"
	}
	if !strings.Contains(u, "flashscore.com") && !strings.HasPrefix(u, "http") {
		u = base + "/" + u
	}
	return u
}
