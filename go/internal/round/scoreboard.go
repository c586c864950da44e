package round

import (
	"math"
	"sort"

	"github.com/mcdev12/roundsync/go/internal/models"
)

// ComputeScoreboard ranks every known participant of a round. Participants
// are the union of membership rows and submission rows, so players who joined
// but never submitted appear with a zero line.
//
// Ordering: net accuracy desc, net XP desc, display name asc, player id asc.
func ComputeScoreboard(roomID string, roundIndex int, participants []models.Participant, submissions []models.RoundSubmission) models.Scoreboard {
	rows := make(map[string]*models.ScoreboardRow)

	for _, p := range participants {
		if p.PlayerID == "" {
			continue
		}
		if _, ok := rows[p.PlayerID]; !ok {
			rows[p.PlayerID] = &models.ScoreboardRow{PlayerID: p.PlayerID, DisplayName: p.DisplayName}
		}
	}

	for _, s := range submissions {
		if s.PlayerID == "" || s.RoundIndex != roundIndex {
			continue
		}
		row, ok := rows[s.PlayerID]
		if !ok {
			row = &models.ScoreboardRow{PlayerID: s.PlayerID}
			rows[s.PlayerID] = row
		}
		if row.DisplayName == "" {
			row.DisplayName = s.DisplayName
		}
		row.NetAccuracy = NetAccuracy(s.Score)
		row.NetXP = NetXP(s.Score)
		row.HintsUsed = s.Score.HintsUsed
		row.DistanceKm = s.Score.DistanceKm
		row.YearDelta = s.Score.YearDelta
		row.Submitted = true
	}

	list := make([]models.ScoreboardRow, 0, len(rows))
	for _, r := range rows {
		if r.DisplayName == "" {
			r.DisplayName = r.PlayerID
		}
		list = append(list, *r)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.NetAccuracy != b.NetAccuracy {
			return a.NetAccuracy > b.NetAccuracy
		}
		if a.NetXP != b.NetXP {
			return a.NetXP > b.NetXP
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.PlayerID < b.PlayerID
	})

	for i := range list {
		list[i].Rank = i + 1
	}

	return models.Scoreboard{
		RoomID:     roomID,
		RoundIndex: roundIndex,
		Rows:       list,
	}
}

// NetAccuracy is raw accuracy minus hint debt, floored at zero.
func NetAccuracy(s models.SubmissionScore) float64 {
	net := s.Accuracy - s.HintAccuracyDebt
	if math.IsNaN(net) || net < 0 {
		return 0
	}
	return net
}

// NetXP is raw XP minus hint debt, floored at zero.
func NetXP(s models.SubmissionScore) int {
	net := s.XP - s.HintXPDebt
	if net < 0 {
		return 0
	}
	return net
}
