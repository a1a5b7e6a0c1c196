// Command argusd wires Sentinel's EventBus, drivers, and pipeline modules
// into one running daemon: flag parsing, flat construction in main,
// explicit dependency passing, no DI framework. It installs a real
// OS-signal handler so the orderly shutdown order required of every
// module is actually exercised on SIGINT/SIGTERM.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/config"
	"github.com/argusvision/sentinel/internal/frame"
	"github.com/argusvision/sentinel/internal/llm"
	"github.com/argusvision/sentinel/internal/metrics"
	"github.com/argusvision/sentinel/internal/mic"
	"github.com/argusvision/sentinel/internal/micdrv"
	"github.com/argusvision/sentinel/internal/model"
	"github.com/argusvision/sentinel/internal/opsserver"
	"github.com/argusvision/sentinel/internal/orchestrator"
	"github.com/argusvision/sentinel/internal/ptzdrv"
	"github.com/argusvision/sentinel/internal/reporter"
	"github.com/argusvision/sentinel/internal/stt"
	"github.com/argusvision/sentinel/internal/vision"
)

// flags holds the parsed CLI surface: --config plus per-module disable
// switches, built on the standard library's flag package rather than a
// cobra/viper CLI framework.
type flags struct {
	configPath string
	noMic      bool
	noStt      bool
	noLlm      bool
	noYolo     bool
	noDisplay  bool
	debug      bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to YAML config file (defaults baked in if unset)")
	flag.BoolVar(&f.noMic, "no-mic", false, "disable the microphone-array module")
	flag.BoolVar(&f.noStt, "no-stt", false, "disable speech-to-text")
	flag.BoolVar(&f.noLlm, "no-llm", false, "disable LLM situation analysis")
	flag.BoolVar(&f.noYolo, "no-yolo", false, "disable the object detector (NullDetector stands in)")
	flag.BoolVar(&f.noDisplay, "no-display", false, "suppress the live-view key listener")
	flag.BoolVar(&f.debug, "debug", false, "verbose per-tick logging")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	eventBus, err := bus.New()
	if err != nil {
		log.Fatalf("[main] bus: %v", err)
	}

	collector := metrics.New()
	collector.RegisterBusDropped(func() float64 { return float64(eventBus.DroppedCount()) })
	eventBus.Subscribe("*", func(ev model.Event) {
		collector.BusEventsTotal.WithLabelValues(ev.Topic).Inc()
		if ev.Topic == model.TopicLlmEmergency {
			collector.EmergencyTotal.Inc()
		}
	})

	frameSource := frame.NewSource(func() frame.Decoder {
		if cfg.Camera.URL == "" || cfg.Camera.URL == "test://" {
			return frame.NewSyntheticDecoder(640, 480)
		}
		return newCameraDecoder(cfg.Camera)
	})

	ptzDriver := ptzdrv.NewLoggingDriver("ptz-0", nil)
	arbiter := ptzdrv.NewArbiter(ptzDriver)
	arbiter.SetObserver(ptzObserver(collector))

	var micDriver micdrv.Driver
	if !f.noMic {
		micDriver = micdrv.NewSimDriver(0, 8, 1.0)
	}
	micCfg := mic.DefaultConfig()
	if cfg.Mic.ConfidenceThreshold != 0 {
		micCfg.ConfidenceThreshold = cfg.Mic.ConfidenceThreshold
	}
	if cfg.Mic.ZenithConfidence != 0 {
		micCfg.ZenithConfidence = cfg.Mic.ZenithConfidence
	}
	if cfg.Mic.ZenithGain != 0 {
		micCfg.ZenithGain = cfg.Mic.ZenithGain
	}
	micModule := mic.New(micCfg, micDriver, eventBus, arbiter)

	var detector vision.Detector = vision.NullDetector{}
	if !f.noYolo && cfg.Yolo.ModelPath != "" {
		log.Printf("[main] yolo.model_path=%q configured but no bundled detector backend; falling back to NullDetector", cfg.Yolo.ModelPath)
	}
	visionCfg := vision.DefaultConfig()
	if cfg.Yolo.ReidThreshold != 0 {
		visionCfg.ReidThreshold = cfg.Yolo.ReidThreshold
	}
	if cfg.Ptz.PidKp != 0 {
		visionCfg.Control.KP = cfg.Ptz.PidKp
	}
	if cfg.Ptz.DeadZonePixels != 0 {
		visionCfg.Control.DeadZonePixels = float64(cfg.Ptz.DeadZonePixels)
	}
	if cfg.Ptz.PatrolSpeed != 0 {
		visionCfg.Control.PatrolSpeed = cfg.Ptz.PatrolSpeed
	}
	visionCfg.DOAFusion.Enabled = cfg.Yolo.DOAFusion
	if cfg.Yolo.DOABoostWeight != 0 {
		visionCfg.DOAFusion.BoostWeight = cfg.Yolo.DOABoostWeight
	}
	if cfg.Ptz.CameraFovDeg != 0 {
		visionCfg.DOAFusion.CameraFovDeg = cfg.Ptz.CameraFovDeg
	}
	visionModule := vision.New(visionCfg, detector, eventBus, arbiter)

	var recognizer stt.Recognizer
	simRecognizer := stt.NewSimRecognizer()
	if !f.noStt {
		recognizer = simRecognizer
	}
	sttCfg := stt.DefaultConfig()
	if cfg.Stt.PhraseTimeLimit != 0 {
		sttCfg.PhraseTimeLimit = cfg.Stt.PhraseTimeLimit
	}
	sttModule := stt.New(sttCfg, recognizer, eventBus, micModule)

	var analyzer llm.Analyzer
	if llmEndpoint := os.Getenv("SENTINEL_LLM_ENDPOINT"); !f.noLlm && llmEndpoint != "" {
		analyzer = llm.NewHTTPAnalyzer(llmEndpoint, os.Getenv("SENTINEL_LLM_API_KEY"), cfg.Llm.Model, 10*time.Second)
	}
	llmCfg := llm.DefaultConfig()
	if cfg.Llm.AnalysisCooldown != 0 {
		llmCfg.Cooldown = cfg.Llm.AnalysisCooldown
	}
	if cfg.Llm.MaxImageSize != 0 {
		llmCfg.MaxImageSize = cfg.Llm.MaxImageSize
	}
	if cfg.Llm.JpegQuality != 0 {
		llmCfg.JPEGQuality = cfg.Llm.JpegQuality
	}
	llmModule := llm.New(llmCfg, analyzer, eventBus)

	reporterCfg := reporter.DefaultConfig()
	reporterCfg.URL = cfg.Reporter.URL
	if cfg.Reporter.Timeout != 0 {
		reporterCfg.Timeout = cfg.Reporter.Timeout
	}
	if cfg.Reporter.EmergencyInterval != 0 {
		reporterCfg.EmergencyInterval = cfg.Reporter.EmergencyInterval
	}
	if cfg.Reporter.AnalysisInterval != 0 {
		reporterCfg.AnalysisInterval = cfg.Reporter.AnalysisInterval
	}
	if cfg.Reporter.PersonDetectedInterval != 0 {
		reporterCfg.PersonDetectedInterval = cfg.Reporter.PersonDetectedInterval
	}
	if cfg.Reporter.DOAInterval != 0 {
		reporterCfg.DOAInterval = cfg.Reporter.DOAInterval
	}
	reporterCfg.OnPost = func(ok bool) {
		if ok {
			collector.ReporterSentTotal.Inc()
		} else {
			collector.ReporterFailTotal.Inc()
		}
	}
	reporterModule := reporter.New(reporterCfg, eventBus)

	orch := orchestrator.New()
	registerModules(orch, visionModule, llmModule, reporterModule, arbiter, collector)

	for _, name := range []string{"detection", "llm_analysis", "reporter"} {
		up := 0.0
		if orch.Enabled(name) {
			up = 1.0
		}
		collector.ModuleUp.WithLabelValues(name).Set(up)
	}
	setAvailGauge(collector, "mic", micModule.Available())
	setAvailGauge(collector, "stt", sttModule.Available())
	setAvailGauge(collector, "llm", llmModule.Available())

	opsAddr := cfg.Ops.Addr
	if opsAddr == "" {
		opsAddr = ":8090"
	}
	ops := opsserver.New(opsAddr, eventBus, collector, func() map[string]bool {
		return map[string]bool{
			"detection": orch.Enabled("detection"),
			"mic":       micModule.Available(),
			"stt":       sttModule.Available(),
			"llm":       llmModule.Available(),
			"reporter":  orch.Enabled("reporter"),
		}
	}, arbiter.Snapshot)
	ops.Start()

	ctx, cancel := context.WithCancel(context.Background())
	frameSource.Start(ctx)
	micModule.Start(ctx)
	sttModule.Start(ctx)

	pipelineName := cfg.Pipeline.Default
	if pipelineName == "" {
		pipelineName = "security"
	}
	var activePipeline atomic.Value
	activePipeline.Store(pipelineName)

	if !f.noDisplay {
		go runKeyListener(cancel, &activePipeline, simRecognizer)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	everyN := cfg.Pipeline.ProcessEveryNFrames
	if everyN <= 0 {
		everyN = 3
	}

	log.Printf("[main] argusd running, ops=%s, pipeline=%q, every %d frames", opsAddr, pipelineName, everyN)
	runLoop(ctx, sigCh, frameSource, orch, &activePipeline, everyN, collector, f.debug)

	log.Println("[main] shutting down")
	cancel()
	orch.ShutdownAll()
	frameSource.Release()
	sttModule.Shutdown()
	micModule.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] opsserver shutdown: %v", err)
	}
	if err := eventBus.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] bus shutdown: %v", err)
	}
	log.Println("[main] stopped")
}

func setAvailGauge(collector *metrics.Collector, name string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	collector.ModuleUp.WithLabelValues(name).Set(v)
}

// ptzObserver feeds every arbitration decision into the request counter and
// keeps the ownership gauge pointing at the single current owner.
func ptzObserver(collector *metrics.Collector) func(req model.PtzRequest, accepted bool) {
	var lastOwner string
	return func(req model.PtzRequest, accepted bool) {
		result := "rejected"
		if accepted {
			result = "accepted"
		}
		collector.PtzRequestsTotal.WithLabelValues(req.Owner, result).Inc()
		if !accepted {
			return
		}
		if lastOwner != "" && lastOwner != req.Owner {
			collector.PtzOwnerGauge.WithLabelValues(lastOwner).Set(0)
		}
		collector.PtzOwnerGauge.WithLabelValues(req.Owner).Set(1)
		lastOwner = req.Owner
	}
}

// runLoop drives the pipeline at the configured frame cadence until ctx
// is cancelled or a termination signal arrives.
func runLoop(ctx context.Context, sigCh <-chan os.Signal, src *frame.Source, orch *orchestrator.Orchestrator, activePipeline *atomic.Value, everyN int, collector *metrics.Collector, debug bool) {
	ticker := time.NewTicker(33 * time.Millisecond) // ~30fps polling of the latest decoded frame
	defer ticker.Stop()

	frameN := 0
	for {
		select {
		case <-sigCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			frameN++
			if frameN%everyN != 0 {
				continue
			}
			f := src.Latest()
			if f == nil {
				continue
			}
			name := activePipeline.Load().(string)
			shared := orchestrator.SharedData{"frame": f}
			start := time.Now()
			results := orch.Run(ctx, name, shared)
			collector.PipelineDuration.WithLabelValues(name).Set(time.Since(start).Seconds())
			if debug {
				log.Printf("[main] tick=%d pipeline=%q results=%v", frameN, name, results)
			}
		}
	}
}

// registerModules adapts every concrete module's native constructor and
// method signatures into the orchestrator's capability set via
// orchestrator.Func, and defines the "security" pipeline
// (detection -> llm_analysis -> reporter) with no step predicates, plus the
// detection-only "passive" pipeline the live-view 'p' key toggles to. The
// mic, stt, and frame source run their own background loops started
// directly in main and are not pipeline steps.
func registerModules(
	orch *orchestrator.Orchestrator,
	visionModule *vision.Module,
	llmModule *llm.Module,
	reporterModule *reporter.Module,
	arbiter *ptzdrv.Arbiter,
	collector *metrics.Collector,
) {
	ctx := context.Background()

	orch.Register(ctx, &orchestrator.Func{
		ModuleName: "detection",
		ProcessFn: func(ctx context.Context, shared orchestrator.SharedData) (any, error) {
			f, _ := shared["frame"].(*model.Frame)
			return visionModule.Process(ctx, f)
		},
		ShutdownFn: func() {
			visionModule.Close()
			arbiter.Stop()
		},
	})

	orch.Register(ctx, &orchestrator.Func{
		ModuleName: "llm_analysis",
		ProcessFn: func(ctx context.Context, shared orchestrator.SharedData) (any, error) {
			f, _ := shared["frame"].(*model.Frame)
			hasPerson := false
			if det, ok := shared["detection"].(vision.Result); ok {
				hasPerson = det.PersonDetected
			}
			res, err := llmModule.Process(ctx, f, hasPerson)
			if err == nil {
				collector.AnalysisTotal.WithLabelValues(string(res.Outcome)).Inc()
			}
			return res, err
		},
		ShutdownFn: llmModule.Close,
	})

	orch.Register(ctx, &orchestrator.Func{
		ModuleName: "reporter",
		ShutdownFn: reporterModule.Shutdown,
	})

	orch.DefinePipeline("security", orchestrator.Pipeline{
		{ModuleName: "detection"},
		{ModuleName: "llm_analysis"},
		{ModuleName: "reporter"},
	})
	orch.DefinePipeline("passive", orchestrator.Pipeline{
		{ModuleName: "detection"},
	})
}

// runKeyListener reads lines from stdin for the live-view controls (each
// command is one letter followed by Enter): 'q' quits, 'p' toggles between the security and passive
// pipelines, 's' queues a synthetic phrase through the sim recognizer for
// demoing without a microphone.
func runKeyListener(cancel context.CancelFunc, activePipeline *atomic.Value, sim *stt.SimRecognizer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "q":
			cancel()
			return
		case "p":
			next := "security"
			if activePipeline.Load().(string) == "security" {
				next = "passive"
			}
			activePipeline.Store(next)
			fmt.Printf("[main] pipeline -> %s\n", next)
		case "s":
			sim.Queue("there is someone at the door", 2*time.Second)
			fmt.Println("[main] queued a synthetic utterance")
		}
	}
}
