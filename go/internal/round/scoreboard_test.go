package round

import (
	"encoding/json"
	"testing"

	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sub(playerID, name string, acc float64, xp int) models.RoundSubmission {
	return models.RoundSubmission{
		RoomID:        "R1",
		RoundIndex:    0,
		PlayerID:      playerID,
		DisplayName:   name,
		SubmissionRef: "ref-" + playerID,
		Score:         models.SubmissionScore{Accuracy: acc, XP: xp},
	}
}

func TestComputeScoreboard_Ordering(t *testing.T) {
	subs := []models.RoundSubmission{
		sub("p1", "Zed", 0.5, 100),
		sub("p2", "Amy", 0.9, 10),
		sub("p3", "Bob", 0.5, 200),
		sub("p4", "Abe", 0.5, 100),
	}

	board := ComputeScoreboard("R1", 0, nil, subs)
	require.Len(t, board.Rows, 4)

	var order []string
	for i, row := range board.Rows {
		order = append(order, row.PlayerID)
		assert.Equal(t, i+1, row.Rank)
		assert.True(t, row.Submitted)
	}
	assert.Equal(t, []string{"p2", "p3", "p4", "p1"}, order)
}

func TestComputeScoreboard_IdenticalNamesFallBackToPlayerID(t *testing.T) {
	board := ComputeScoreboard("R1", 0, nil, []models.RoundSubmission{
		sub("b", "Sam", 0.5, 10),
		sub("a", "Sam", 0.5, 10),
	})
	require.Len(t, board.Rows, 2)
	assert.Equal(t, "a", board.Rows[0].PlayerID)
	assert.Equal(t, "b", board.Rows[1].PlayerID)
}

func TestComputeScoreboard_HintDebtFlooredAtZero(t *testing.T) {
	s := sub("p1", "Pat", 0.3, 50)
	s.Score.HintsUsed = 2
	s.Score.HintAccuracyDebt = 0.5
	s.Score.HintXPDebt = 80

	board := ComputeScoreboard("R1", 0, nil, []models.RoundSubmission{s})
	require.Len(t, board.Rows, 1)
	assert.Equal(t, 0.0, board.Rows[0].NetAccuracy)
	assert.Equal(t, 0, board.Rows[0].NetXP)
	assert.Equal(t, 2, board.Rows[0].HintsUsed)
}

func TestComputeScoreboard_IncludesParticipantsWithoutSubmissions(t *testing.T) {
	participants := []models.Participant{
		{RoomID: "R1", PlayerID: "p1", DisplayName: "Ann"},
		{RoomID: "R1", PlayerID: "p2", DisplayName: "Ben"},
	}
	board := ComputeScoreboard("R1", 0, participants, []models.RoundSubmission{sub("p2", "Ben", 0.7, 30)})

	require.Len(t, board.Rows, 2)
	assert.Equal(t, "p2", board.Rows[0].PlayerID)
	assert.Equal(t, "p1", board.Rows[1].PlayerID)
	assert.False(t, board.Rows[1].Submitted)
	assert.Equal(t, 0.0, board.Rows[1].NetAccuracy)
}

func TestComputeScoreboard_IgnoresOtherRounds(t *testing.T) {
	other := sub("p9", "Other", 1, 1)
	other.RoundIndex = 3

	board := ComputeScoreboard("R1", 0, nil, []models.RoundSubmission{sub("p1", "Ann", 0.2, 1), other})
	require.Len(t, board.Rows, 1)
	assert.Equal(t, "p1", board.Rows[0].PlayerID)
}

func TestComputeScoreboard_InputOrderDoesNotChangeBytes(t *testing.T) {
	a := []models.RoundSubmission{sub("p1", "Ann", 0.4, 5), sub("p2", "Ben", 0.4, 5), sub("p3", "Cal", 0.1, 50)}
	b := []models.RoundSubmission{a[2], a[0], a[1]}

	first, err := json.Marshal(ComputeScoreboard("R1", 0, nil, a))
	require.NoError(t, err)
	second, err := json.Marshal(ComputeScoreboard("R1", 0, nil, b))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}
