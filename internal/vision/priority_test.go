package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypeScoreLookup(t *testing.T) {
	assert.Equal(t, 1.0, TypeScore("person"))
	assert.Equal(t, 0.5, TypeScore("car"))
	assert.Equal(t, 0.5, TypeScore("motorcycle"))
	assert.Equal(t, 0.4, TypeScore("bus"))
	assert.Equal(t, 0.4, TypeScore("truck"))
	assert.Equal(t, 0.2, TypeScore("dog"))
}

func TestScoreCenteredPersonFullFrame(t *testing.T) {
	// A person filling the whole 640x480 frame, centered: area_ratio=1,
	// dist_ratio=0 -> score = 0.6*1 + 0.3*1 + 0.1*1 = 1.0
	score := Score(ScoreInput{ClassName: "person", Area: 640 * 480, CenterX: 320, CenterY: 240}, 640, 480)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScoreUnknownClassAtFrameEdge(t *testing.T) {
	// Area=0 and maximally off-center: only the type_score term contributes.
	score := Score(ScoreInput{ClassName: "dog", Area: 0, CenterX: 0, CenterY: 0}, 640, 480)
	assert.InDelta(t, 0.6*0.2, score, 1e-9)
}

func TestDOABonusDisabledByDefault(t *testing.T) {
	cfg := DefaultDOAFusionConfig()
	bonus := cfg.DOABonus(320, 640, 90, time.Now(), time.Now())
	assert.Equal(t, 0.0, bonus)
}

func TestDOABonusAlignedObjectIsMaximal(t *testing.T) {
	cfg := DefaultDOAFusionConfig()
	cfg.Enabled = true
	now := time.Now()

	// Object dead center (cx=320 of 640) has obj_angle=0; DOA angle 0 too ->
	// perfectly aligned -> bonus = boost_weight.
	bonus := cfg.DOABonus(320, 640, 0, now, now)
	assert.InDelta(t, cfg.BoostWeight, bonus, 1e-9)
}

func TestDOABonusStaleReadingIsZero(t *testing.T) {
	cfg := DefaultDOAFusionConfig()
	cfg.Enabled = true
	now := time.Now()
	stale := now.Add(-2 * time.Second)

	bonus := cfg.DOABonus(320, 640, 0, stale, now)
	assert.Equal(t, 0.0, bonus)
}

func TestPriorityHistoryMeanAndCapacity(t *testing.T) {
	h := NewPriorityHistory()
	for i := 0; i < 8; i++ {
		h.Record(1, float64(i))
	}
	// Only the most recent historyCapacity=5 samples survive: 3,4,5,6,7.
	assert.InDelta(t, 5.0, h.Mean(1), 1e-9)
}

func TestPriorityHistoryForget(t *testing.T) {
	h := NewPriorityHistory()
	h.Record(1, 0.9)
	h.Forget(1)
	assert.Equal(t, 0.0, h.Mean(1))
}
