package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"easytalking/internal/bridge"
	"easytalking/internal/camera"
	"easytalking/internal/chat"
	"easytalking/internal/config"
	"easytalking/internal/detect"
	"easytalking/internal/logging"
	"easytalking/internal/overlay"
	"easytalking/internal/remote"
	"easytalking/internal/speech"
	"easytalking/internal/state"
	"easytalking/internal/tensor"
)

// App struct
type App struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfgPath string
	cfg     config.Config

	store       *state.Manager
	unsubscribe []func()

	catalog    *speech.VoiceCatalog
	speaker    *speech.Speaker
	listener   *speech.Listener
	recognizer *bridge.Recognizer // nil with the helper backend
	chat       *chat.Controller

	surface *camera.FrameSurface
	media   *bridge.MediaDevices
	canvas  *bridge.Canvas
	session *camera.Session

	renderer *overlay.Renderer
	backend  *tensor.Backend
	detector *detect.Detector
	loader   *detect.Loader
	runtime  *detect.Runtime

	remoteServer *remote.Server
	configDone   chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
}

// NewApp creates a new App
func NewApp() *App {
	return &App{cfgPath: config.DefaultPath()}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
	}
	validationErr := cfg.Validate()

	logCfg := logging.DefaultConfig()
	logCfg.DevMode = cfg.DevMode
	if err := logging.Init(logCfg); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
	} else {
		logging.Info("Application starting", "version", "1.0.0", "config", a.cfgPath)
	}
	if validationErr != nil {
		logging.Warn("Config validation warnings", "warnings", validationErr.Error())
	}

	a.wire(ctx, cfg, bridge.NewWailsEmitter(ctx))

	if cfg.Detection.Enabled {
		a.startDetection()
	} else {
		a.store.SetDetector(state.DetectorDisabled)
	}

	a.watchConfig()

	if cfg.Remote.Enabled {
		if _, err := a.StartRemote(); err != nil {
			logging.Error("Failed to start remote chat", "error", err)
		}
	}
}

// wire builds every adapter around the state store. It does not touch the
// docker daemon, the network or the config file.
func (a *App) wire(ctx context.Context, cfg config.Config, em bridge.Emitter) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.cfg = cfg

	a.store = state.NewManager()
	a.unsubscribe = append(a.unsubscribe, bridge.ForwardState(a.store, em))

	// Speech output
	a.catalog = speech.NewVoiceCatalog()
	var synth speech.Synthesizer = bridge.NewSynthesizer(em)
	if cfg.Speech.Output == config.BackendEspeak {
		es := speech.NewEspeakSynthesizer(cfg.Speech.EspeakBinary)
		synth = es
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			voices, err := es.Voices(a.ctx)
			if err != nil {
				logging.Warn("Failed to list espeak voices", "error", err)
				return
			}
			a.catalog.Update(voices)
			logging.Info("Espeak voices loaded", "count", len(voices))
		}()
	}
	a.speaker = speech.NewSpeaker(synth, a.catalog)
	a.chat = chat.NewController(a.store, a.speaker)

	// Speech input
	var rec speech.Recognizer
	if cfg.Speech.Input == config.BackendHelper {
		rec = speech.NewHelperRecognizer(cfg.Speech.HelperBinary)
	} else {
		a.recognizer = bridge.NewRecognizer(em)
		rec = a.recognizer
	}
	a.listener = speech.NewListener(rec, a.store, a.store, a.chat.SubmitRecognized)

	// Camera
	a.surface = camera.NewFrameSurface()
	a.media = bridge.NewMediaDevices(em)
	a.canvas = bridge.NewCanvas(em)
	a.session = camera.NewSession(a.media, a.surface, a.canvas, a.store)

	// Detection frame loop; idle until a model is set
	d := cfg.Detection
	a.renderer = overlay.NewRenderer(a.canvas, overlay.NewLabels(d.Labels))
	a.backend = tensor.NewBackend()
	a.detector = detect.NewDetector(a.backend, a.surface, a.renderer, detect.Options{
		InputWidth:  d.InputWidth,
		InputHeight: d.InputHeight,
		Interval:    d.FrameInterval(),
		Threshold:   float32(d.Threshold),
		Outputs:     detect.OutputIndices{Boxes: d.Outputs.Boxes, Classes: d.Outputs.Classes, Scores: d.Outputs.Scores},
	})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.detector.Run(a.ctx)
	}()

	// Remote chat, broadcasting every chat change
	a.remoteServer = remote.NewServer(a.chat)
	a.unsubscribe = append(a.unsubscribe, a.store.Subscribe(func(change state.Change, snap state.AppState) {
		switch change {
		case state.ChangeMessages:
			a.remoteServer.BroadcastHistory()
		case state.ChangeLanguage:
			a.remoteServer.BroadcastLanguage(snap.Language)
		}
	}))
}

// startDetection fetches the model, starts the serving container and hands
// the model to the frame loop, all in the background
func (a *App) startDetection() {
	d := a.cfg.Detection
	models := detect.NewModelStore(d.ModelURL, d.CacheDir, d.ModelName)

	rt, err := detect.NewRuntime(detect.RuntimeConfig{
		Image:     d.Image,
		ModelName: d.ModelName,
		ModelDir:  models.ModelDir(),
		HostPort:  d.ServingPort,
	})
	if err != nil {
		logging.Warn("Docker not available, detection disabled", "error", err)
		a.store.SetDetector(state.DetectorFailed)
		return
	}
	a.runtime = rt

	model := detect.NewServingModel(rt.BaseURL(), d.ModelName, d.Outputs.Names)
	a.loader = detect.NewLoader(models, rt, model, model, a.detector, a.store)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// failures are logged and reflected in the detector status
		a.loader.Load(a.ctx)
	}()
}

// watchConfig hot-reloads the detection threshold and labels
func (a *App) watchConfig() {
	if err := a.ensureConfigFile(); err != nil {
		logging.Warn("Config file unavailable, hot reload disabled", "path", a.cfgPath, "error", err)
		return
	}
	a.configDone = make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := config.Watch(a.cfgPath, a.configDone, a.applyConfig)
		if err != nil {
			logging.Error("Config watcher stopped", "error", err)
		}
	}()
}

// ensureConfigFile writes the running config when no file exists yet, so
// there is something to edit and watch
func (a *App) ensureConfigFile() error {
	if _, err := os.Stat(a.cfgPath); !os.IsNotExist(err) {
		return err
	}
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	if err := config.Save(a.cfgPath, cfg); err != nil {
		return err
	}
	logging.Info("Default config written", "path", a.cfgPath)
	return nil
}

func (a *App) applyConfig(cfg config.Config, ve *config.ValidationError) {
	if ve != nil {
		logging.Warn("Config validation warnings", "warnings", ve.Error())
	}
	a.detector.SetThreshold(float32(cfg.Detection.Threshold))
	a.renderer.Labels().Set(cfg.Detection.Labels)

	a.mu.Lock()
	a.cfg.Detection.Threshold = cfg.Detection.Threshold
	a.cfg.Detection.Labels = cfg.Detection.Labels
	a.mu.Unlock()

	logging.Info("Config reloaded", "threshold", cfg.Detection.Threshold, "labels", len(cfg.Detection.Labels))
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	if a.cancel == nil {
		return
	}
	a.cancel()

	if a.configDone != nil {
		close(a.configDone)
	}
	if a.recognizer != nil {
		a.recognizer.Close()
	}
	a.media.Close()
	a.session.Close()
	a.listener.Wait()

	if a.loader != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := a.loader.Shutdown(stopCtx); err != nil {
			logging.Warn("Failed to stop model server", "error", err)
		}
		cancel()
	}
	if a.runtime != nil {
		a.runtime.Close()
	}
	if err := a.remoteServer.Stop(); err != nil {
		logging.Warn("Failed to stop remote server", "error", err)
	}

	a.wg.Wait()
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	logging.Info("Application stopped", "liveTensors", a.backend.NumTensors())
	logging.Close()
}

// ============================================
// Chat Methods
// ============================================

// GetState returns the whole UI state
func (a *App) GetState() state.AppState {
	return a.store.Snapshot()
}

// SendMessage submits the typed text. Blank input is ignored.
func (a *App) SendMessage(text string) bool {
	return a.chat.SubmitTyped(a.ctx, text)
}

// SetInput mirrors the text box into the state
func (a *App) SetInput(text string) {
	a.chat.SetInput(text)
}

// ToggleLanguage switches between English and Korean
func (a *App) ToggleLanguage() state.Language {
	return a.chat.ToggleLanguage()
}

// ============================================
// Speech Methods
// ============================================

// StartListening starts one recognition session. It returns false while a
// session is already running.
func (a *App) StartListening() bool {
	return a.listener.StartListening(a.ctx)
}

// UpdateVoices is called by the frontend on voiceschanged
func (a *App) UpdateVoices(voices []speech.Voice) {
	a.catalog.Update(voices)
	logging.Debug("Voice catalog updated", "count", len(voices))
}

// ResolveRecognition delivers the result of a speech:listen request
func (a *App) ResolveRecognition(id, transcript, errCode string) error {
	if a.recognizer == nil {
		return fmt.Errorf("webview recognizer not in use")
	}
	return a.recognizer.Resolve(id, transcript, errCode)
}

// ============================================
// Camera Methods
// ============================================

// ToggleCamera turns the camera on or off and returns the new state.
// A denied or missing camera leaves it off.
func (a *App) ToggleCamera() bool {
	on, _ := a.session.Toggle(a.ctx)
	return on
}

// ResolveMediaRequest delivers the result of a media:request
func (a *App) ResolveMediaRequest(id string, grant bridge.MediaGrant, errName string) error {
	return a.media.Resolve(id, grant, errName)
}

// PushFrame receives the current video frame as a base64 JPEG or PNG,
// optionally as a data URL
func (a *App) PushFrame(streamID, data string) error {
	if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return a.surface.PushFrame(streamID, raw)
}

// GetDetectorStats returns the frame loop counters
func (a *App) GetDetectorStats() detect.Stats {
	return a.detector.Stats()
}

// ============================================
// Logging Methods
// ============================================

// LogFromFrontend receives log messages from the frontend and routes them through the centralized logger
func (a *App) LogFromFrontend(level, module, message string, data map[string]interface{}) {
	logging.LogFromFrontend(logging.LogEntry{
		Level:   level,
		Module:  module,
		Message: message,
		Data:    data,
	})
}

// IsDevMode returns whether the application is running in development mode
func (a *App) IsDevMode() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.DevMode
}

// ============================================
// Remote Access Methods
// ============================================

// RemoteAccessStatus represents the status of remote access
type RemoteAccessStatus struct {
	Running     bool                `json:"running"`
	Port        int                 `json:"port"`
	LocalURL    string              `json:"localUrl"`
	Token       string              `json:"token"`
	ClientCount int                 `json:"clientCount"`
	Clients     []remote.ClientInfo `json:"clients"`
}

// StartRemote starts the remote chat server with a fresh token
func (a *App) StartRemote() (*RemoteAccessStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.remoteServer.IsRunning() {
		return nil, fmt.Errorf("remote chat already running")
	}

	port := a.cfg.Remote.Port
	token, err := a.remoteServer.GenerateToken(time.Duration(a.cfg.Remote.TokenExpiry) * time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if err := a.remoteServer.Start(port); err != nil {
		return nil, fmt.Errorf("failed to start remote chat: %w", err)
	}

	localURL := fmt.Sprintf("http://localhost:%d/?token=%s", port, token)
	logging.Info("Remote chat started", "port", port)

	return &RemoteAccessStatus{
		Running:  true,
		Port:     port,
		LocalURL: localURL,
		Token:    token,
		Clients:  []remote.ClientInfo{},
	}, nil
}

// StopRemote stops the remote chat server
func (a *App) StopRemote() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.remoteServer.Stop(); err != nil {
		logging.Error("Failed to stop remote server", "error", err)
		return err
	}
	logging.Info("Remote chat stopped")
	return nil
}

// GetRemoteStatus returns the current remote chat status
func (a *App) GetRemoteStatus() *RemoteAccessStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := &RemoteAccessStatus{
		Port:    a.cfg.Remote.Port,
		Clients: []remote.ClientInfo{},
	}

	if a.remoteServer.IsRunning() {
		status.Running = true
		status.Port = a.remoteServer.GetPort()
		status.Token = a.remoteServer.GetToken()
		status.LocalURL = fmt.Sprintf("http://localhost:%d/?token=%s", status.Port, status.Token)
		status.Clients = a.remoteServer.GetClients()
		status.ClientCount = len(status.Clients)
	}

	return status
}
