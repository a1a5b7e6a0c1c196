// Package micdrv implements the microphone array driver abstraction: a thin
// boundary over the circular microphone array's firmware. Firmware tuning
// registers are kept out of scope; only the read/write surface the rest of
// the system needs is exposed here.
package micdrv

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// Driver is the abstract mic array interface. If the device is absent at
// init, callers mark the module unavailable and continue without it —
// Driver itself never panics or blocks indefinitely.
type Driver interface {
	ReadSpeechDetected() (bool, error)
	ReadDOA() (uint16, error)
	ReadGain() (float32, error)
	SetParam(name string, value float64) error
}

// SimDriver is a deterministic, device-free Driver used by the `test://`
// camera/mic configuration and by unit tests. It simulates a stationary
// speaker at a configurable angle with uniform angular jitter (within
// ±jitterDeg) so that
// MicArrayModule's circular-mean smoothing has something realistic to
// converge on.
type SimDriver struct {
	mu sync.Mutex

	centerAngle float64
	jitterDeg   float64
	gain        float32
	speaking    bool
	params      map[string]float64
	rnd         *rand.Rand
}

// NewSimDriver returns a SimDriver centered on centerAngleDeg with the given
// angular jitter (degrees) and constant gain, initially speaking.
func NewSimDriver(centerAngleDeg, jitterDeg float64, gain float32) *SimDriver {
	return &SimDriver{
		centerAngle: centerAngleDeg,
		jitterDeg:   jitterDeg,
		gain:        gain,
		speaking:    true,
		params:      make(map[string]float64),
		rnd:         rand.New(rand.NewSource(1)),
	}
}

func (d *SimDriver) ReadSpeechDetected() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking, nil
}

func (d *SimDriver) ReadDOA() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	jitter := (d.rnd.Float64()*2 - 1) * d.jitterDeg
	angle := math.Mod(d.centerAngle+jitter+360, 360)
	return uint16(angle), nil
}

func (d *SimDriver) ReadGain() (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, nil
}

func (d *SimDriver) SetParam(name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params[name] = value
	return nil
}

// SetSpeaking toggles the simulated speech-detected flag (test hook).
func (d *SimDriver) SetSpeaking(speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = speaking
}

// SetCenterAngle re-centers the simulated DOA (test hook).
func (d *SimDriver) SetCenterAngle(deg float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.centerAngle = deg
}

// SetGain overrides the simulated gain (test hook).
func (d *SimDriver) SetGain(gain float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = gain
}

// ErrUnavailable is returned by a concrete driver's constructor when no
// physical device is present; callers then run without the mic module.
var ErrUnavailable = fmt.Errorf("micdrv: device unavailable")
