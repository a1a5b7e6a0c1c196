package vision

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

const (
	hueBins        = 16
	satBins        = 16
	fingerprintLen = hueBins * satBins

	// DefaultReidThreshold is the minimum histogram correlation that rebinds
	// a newly seen tracker id to a previously known permanent id.
	DefaultReidThreshold = 0.75
)

// Fingerprint extracts a normalized 16x16 hue/saturation histogram from the
// pixels inside box (RGB24, clamped to the frame). It is the appearance
// signature used for re-identification: hue and saturation are used (not
// value), since value is most sensitive to lighting changes.
func Fingerprint(f *model.Frame, box model.Box) []float64 {
	box = box.Clamp(f.Width, f.Height)
	hist := make([]float64, fingerprintLen)
	if box.Area() == 0 {
		return hist
	}

	for y := box.Y1; y < box.Y2; y++ {
		rowOff := y * f.Width * 3
		for x := box.X1; x < box.X2; x++ {
			off := rowOff + x*3
			if off+2 >= len(f.Pixels) {
				continue
			}
			r, g, b := f.Pixels[off], f.Pixels[off+1], f.Pixels[off+2]
			h, s := rgbToHS(r, g, b)
			hb := int(h / 360 * hueBins)
			if hb >= hueBins {
				hb = hueBins - 1
			}
			sb := int(s * satBins)
			if sb >= satBins {
				sb = satBins - 1
			}
			hist[hb*satBins+sb]++
		}
	}
	normalize(hist)
	return hist
}

// rgbToHS converts an 8-bit RGB triple to hue (degrees, [0,360)) and
// saturation ([0,1]); value is discarded by design.
func rgbToHS(r, g, b byte) (h, s float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}

	if delta == 0 {
		h = 0
	} else {
		switch max {
		case rf:
			h = 60 * math.Mod((gf-bf)/delta, 6)
		case gf:
			h = 60 * ((bf-rf)/delta + 2)
		default:
			h = 60 * ((rf-gf)/delta + 4)
		}
	}
	if h < 0 {
		h += 360
	}
	return h, s
}

// normalize scales hist in place so its values sum to 1 (or leaves it as
// all-zero if the crop had no pixels, which Fingerprint already handles).
func normalize(hist []float64) {
	var sum float64
	for _, v := range hist {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range hist {
		hist[i] /= sum
	}
}

// Correlation computes OpenCV's HISTCMP_CORREL statistic between two equal
// length histograms: the Pearson correlation coefficient of their bins.
func Correlation(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var num, denA, denB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	den := math.Sqrt(denA * denB)
	if den == 0 {
		return 0
	}
	return num / den
}

// ReidTable is the durable appearance-fingerprint table plus the volatile
// tracker-id -> permanent-id map. It is owned exclusively by one
// DetectionModule's processing call stack — never accessed concurrently.
type ReidTable struct {
	mu        sync.Mutex
	threshold float64
	nextID    int64
	known     map[int64]*model.ReIdentity // permanentID -> record
	idMap     map[int64]int64             // trackerID -> permanentID
}

// NewReidTable returns an empty table using threshold as the minimum
// correlation required to rebind a tracker id to a known permanent id.
func NewReidTable(threshold float64) *ReidTable {
	return &ReidTable{
		threshold: threshold,
		nextID:    1,
		known:     make(map[int64]*model.ReIdentity),
		idMap:     make(map[int64]int64),
	}
}

// Resolve assigns trackerID a permanent id, updating or rebinding its
// fingerprint, and returns the resulting record. now stamps LastSeen.
func (t *ReidTable) Resolve(trackerID int64, fingerprint []float64, now time.Time) *model.ReIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()

	if permID, ok := t.idMap[trackerID]; ok {
		rec := t.known[permID]
		rec.Fingerprint = fingerprint
		rec.LastSeen = now
		return rec
	}

	bestID := int64(-1)
	bestScore := -1.0
	active := t.activeLocked()
	for permID, rec := range t.known {
		if active[permID] {
			continue
		}
		score := Correlation(rec.Fingerprint, fingerprint)
		if score > bestScore {
			bestScore = score
			bestID = permID
		}
	}

	if bestID != -1 && bestScore > t.threshold {
		t.idMap[trackerID] = bestID
		rec := t.known[bestID]
		rec.Fingerprint = fingerprint
		rec.LastSeen = now
		return rec
	}

	permID := t.nextID
	t.nextID++
	rec := &model.ReIdentity{
		PermanentID: permID,
		Fingerprint: fingerprint,
		DisplayName: displayName(permID),
		LastSeen:    now,
	}
	t.known[permID] = rec
	t.idMap[trackerID] = permID
	return rec
}

func (t *ReidTable) activeLocked() map[int64]bool {
	active := make(map[int64]bool, len(t.idMap))
	for _, permID := range t.idMap {
		active[permID] = true
	}
	return active
}

// EvictStale removes tracker-id -> permanent-id mappings whose tracker id is
// not present in seenTrackerIDs this frame. Permanent records themselves are
// never deleted, so a subject that leaves and returns recovers its id.
func (t *ReidTable) EvictStale(seenTrackerIDs map[int64]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for trackerID := range t.idMap {
		if !seenTrackerIDs[trackerID] {
			delete(t.idMap, trackerID)
		}
	}
}

func displayName(permID int64) string {
	return "Person " + strconv.FormatInt(permID, 10)
}
