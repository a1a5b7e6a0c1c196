// Package config loads Sentinel's single structured YAML configuration
// document with gopkg.in/yaml.v3. The document is read once at boot and
// treated as immutable afterward.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Camera holds camera.* keys.
type Camera struct {
	URL      string `yaml:"url"`
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Ptz holds ptz.* keys.
type Ptz struct {
	ControlMode    string  `yaml:"control_mode"` // continuous / absolute / both
	PidKp          float64 `yaml:"pid_kp"`
	DeadZonePixels int     `yaml:"dead_zone_pixels"`
	PatrolSpeed    float64 `yaml:"patrol_speed"`
	CameraFovDeg   float64 `yaml:"camera_fov_deg"`
}

// Yolo holds yolo.* keys.
type Yolo struct {
	ModelPath      string   `yaml:"model_path"`
	Confidence     float64  `yaml:"confidence"`
	TargetClasses  []string `yaml:"target_classes"`
	ReidThreshold  float64  `yaml:"reid_threshold"`
	DOAFusion      bool     `yaml:"doa_fusion"`
	DOABoostWeight float64  `yaml:"doa_boost_weight"`
}

// Mic holds mic.* keys.
type Mic struct {
	AgcMaxGain          float64 `yaml:"agc_max_gain"`
	VadThreshold        float64 `yaml:"vad_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // default 0.6
	ZenithConfidence    float64 `yaml:"zenith_confidence"`    // default 0.4
	ZenithGain          float64 `yaml:"zenith_gain"`          // default 10.0
}

// Stt holds stt.* keys.
type Stt struct {
	Language        string        `yaml:"language"` // default ko-KR
	EnergyThreshold float64       `yaml:"energy_threshold"`
	PauseThreshold  time.Duration `yaml:"pause_threshold"`   // default 3s
	PhraseTimeLimit time.Duration `yaml:"phrase_time_limit"` // default 15s
}

// Llm holds llm.* keys.
type Llm struct {
	Model            string        `yaml:"model"`
	AnalysisCooldown time.Duration `yaml:"analysis_cooldown"` // default 5s
	MaxImageSize     int           `yaml:"max_image_size"`    // default 640
	JpegQuality      int           `yaml:"jpeg_quality"`      // default 75
}

// Pipeline holds pipeline.* keys.
type Pipeline struct {
	Default             string `yaml:"default"`                // default "security"
	ProcessEveryNFrames int    `yaml:"process_every_n_frames"` // default 3
}

// Reporter holds reporter.* keys.
type Reporter struct {
	URL                    string        `yaml:"url"`
	Timeout                time.Duration `yaml:"timeout"` // default 2s
	EmergencyInterval      time.Duration `yaml:"emergency_interval"`
	AnalysisInterval       time.Duration `yaml:"analysis_interval"`
	PersonDetectedInterval time.Duration `yaml:"person_detected_interval"`
	DOAInterval            time.Duration `yaml:"doa_interval"`
}

// Ops holds the operational HTTP server's listen address.
type Ops struct {
	Addr string `yaml:"addr"` // default ":8090"
}

// Config is the single structured config document.
type Config struct {
	Camera   Camera   `yaml:"camera"`
	Ptz      Ptz      `yaml:"ptz"`
	Yolo     Yolo     `yaml:"yolo"`
	Mic      Mic      `yaml:"mic"`
	Stt      Stt      `yaml:"stt"`
	Llm      Llm      `yaml:"llm"`
	Pipeline Pipeline `yaml:"pipeline"`
	Reporter Reporter `yaml:"reporter"`
	Ops      Ops      `yaml:"ops"`
}

// Default returns the documented factory defaults, with camera.url
// defaulting to the synthetic `test://` source so the daemon runs out of
// the box with no hardware attached.
func Default() Config {
	return Config{
		Camera: Camera{URL: "test://"},
		Ptz: Ptz{
			ControlMode:    "continuous",
			PidKp:          0.4,
			DeadZonePixels: 50,
			PatrolSpeed:    0.2,
			CameraFovDeg:   90.0,
		},
		Yolo: Yolo{
			Confidence:     0.5,
			ReidThreshold:  0.75,
			DOAFusion:      false,
			DOABoostWeight: 0.35,
		},
		Mic: Mic{
			ConfidenceThreshold: 0.6,
			ZenithConfidence:    0.4,
			ZenithGain:          10.0,
		},
		Stt: Stt{
			Language:        "ko-KR",
			PauseThreshold:  3 * time.Second,
			PhraseTimeLimit: 15 * time.Second,
		},
		Llm: Llm{
			AnalysisCooldown: 5 * time.Second,
			MaxImageSize:     640,
			JpegQuality:      75,
		},
		Pipeline: Pipeline{
			Default:             "security",
			ProcessEveryNFrames: 3,
		},
		Reporter: Reporter{
			Timeout:                2 * time.Second,
			AnalysisInterval:       2 * time.Second,
			PersonDetectedInterval: 3 * time.Second,
			DOAInterval:            200 * time.Millisecond,
		},
		Ops: Ops{Addr: ":8090"},
	}
}

// Load reads and parses the YAML document at path, merging it over Default
// so an unset key keeps its documented default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
