package game

import "sort"

// AccrueScore adds time-on-station score to a living submarine. Each kill
// raises the accrual rate by half of the base rate.
func AccrueScore(s *Submarine, dt float64) {
	if s.Health <= 0 {
		return
	}
	s.Score += 1.0 * (1 + 0.5*float64(s.Kills)) * dt
}

// LeaderboardRow is one aggregated user entry.
type LeaderboardRow struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
	Kills    int     `json:"kills"`
	Subs     int     `json:"subs"`
}

// ComputeLeaderboard aggregates score and kills per user over living
// submarines, ordered by score then kills, capped to the top n.
func ComputeLeaderboard(gs *GameState, n int) []LeaderboardRow {
	type agg struct {
		score float64
		kills int
		subs  int
	}
	byUser := make(map[int64]*agg)
	for _, s := range gs.Subs {
		if s.Health <= 0 {
			continue
		}
		a := byUser[s.OwnerID]
		if a == nil {
			a = &agg{}
			byUser[s.OwnerID] = a
		}
		a.score += s.Score
		a.kills += s.Kills
		a.subs++
	}

	rows := make([]LeaderboardRow, 0, len(byUser))
	for uid, a := range byUser {
		u := gs.Users[uid]
		if u == nil {
			continue
		}
		rows = append(rows, LeaderboardRow{
			Username: u.Username,
			Score:    a.score,
			Kills:    a.kills,
			Subs:     a.subs,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Kills > rows[j].Kills
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
