package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	"jordanella.com/autoclick-go/internal/config"
	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/database"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/logging"
	"jordanella.com/autoclick-go/pkg/templates"
)

// commonFlags are accepted by every command
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&c.configPath, "config", "c", "Settings.ini", "settings file")
	flags.StringVar(&c.logLevel, "log-level", "", "override the configured log level")
}

// app is the process-wide wiring shared by the commands
type app struct {
	settings *config.Settings
	logger   *logging.Logger
	mapper   *display.Mapper
	capturer cv.Capturer

	bus      *events.DefaultEventBus
	eventLog *logging.EventLogger
	db       *database.DB
	journal  *database.Journal
}

// loadSettings reads the settings file, falling back to defaults when it
// does not exist
func loadSettings(c commonFlags) (*config.Settings, error) {
	s, err := config.LoadFromINI(c.configPath)
	if err != nil {
		if _, statErr := os.Stat(c.configPath); !errors.Is(statErr, fs.ErrNotExist) {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Warning: %s not found, using defaults\n", c.configPath)
		s = config.NewDefaultSettings()
	}
	if c.logLevel != "" {
		s.LogLevel = c.logLevel
	}
	return s, nil
}

func newApp(s *config.Settings) *app {
	logger := logging.NewLogger("Autoclick").SetMinLevel(logging.ParseLevel(s.LogLevel))

	if !display.EnableDPIAwareness() {
		logger.Debug("Process DPI awareness not changed")
	}

	return &app{
		settings: s,
		logger:   logger,
		mapper:   display.NewMapper(display.NewSystemEnumerator(), display.NewSystemPointMapper(), logger.Named("Display")),
		capturer: cv.NewPlatformCapturer(),
	}
}

// withEvents starts the event bus, the event log and, when configured, the
// journal
func (a *app) withEvents() error {
	a.bus = events.NewEventBus(256)

	el, err := logging.NewEventLogger(a.bus, a.settings.LogDir)
	if err != nil {
		a.logger.Error("Event log disabled", err)
	} else {
		a.eventLog = el
		a.logger.InfoWithContext("Logging events", logging.Fields{"file": el.Path()})
	}

	if a.settings.Journal != "" {
		db, err := database.OpenMigrated(a.settings.Journal, a.logger.Named("Journal"))
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		a.db = db
		a.journal = database.NewJournal(db, a.bus, a.logger.Named("Journal"))
	}
	return nil
}

func (a *app) close() {
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.journal != nil {
		a.journal.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close journal", err)
		}
	}
	if a.eventLog != nil {
		a.eventLog.Close()
	}
}

// physicalRegion resolves the configured region, through the host window
// when one is set. nil means the primary display.
func (a *app) physicalRegion(r *display.Region) (*display.Region, error) {
	if r == nil {
		primary, err := a.capturer.PrimaryBounds()
		if err != nil {
			return nil, err
		}
		return &primary, nil
	}
	out := a.mapper.ToPhysical(*r, a.settings.HostWindow)
	return &out, nil
}

// captureMeta describes the current environment for template provenance
func (a *app) captureMeta(region display.Region) cv.CaptureMeta {
	meta := cv.CaptureMeta{DPIScaleX: 1, DPIScaleY: 1}
	if primary, err := a.capturer.PrimaryBounds(); err == nil {
		meta.ScreenWidth, meta.ScreenHeight = primary.Width, primary.Height
	}
	meta.DPIScaleX, meta.DPIScaleY = a.mapper.ScaleFactorFor(region)
	return meta
}

// loadTemplates builds the matching engine from the configured template
// sources
func (a *app) loadTemplates() (*cv.Engine, *templates.Registry, error) {
	registry := templates.NewRegistry(a.logger.Named("Templates"))
	for _, f := range a.settings.DefinitionFiles() {
		if err := registry.LoadFile(f); err != nil {
			return nil, nil, err
		}
	}
	registry.LoadImages(a.settings.ImageFiles(), cv.SourceLocalImage)

	opts := append(a.settings.EngineOptions(), cv.WithLogger(a.logger.Named("Matcher")))
	engine := cv.NewEngine(opts...)
	defs := registry.ByPriority()
	if err := templates.Install(engine, defs); err != nil {
		return nil, nil, err
	}

	a.logger.InfoWithContext("Templates ready", logging.Fields{"count": len(defs), "backend": cv.Backend})
	return engine, registry, nil
}

// checkTemplates logs provenance mismatches and near-duplicate templates
func (a *app) checkTemplates(registry *templates.Registry, region display.Region) {
	for _, w := range templates.CheckEnvironment(registry.Definitions(), a.captureMeta(region)) {
		a.logger.Warn(w)
	}

	dups, err := registry.Duplicates()
	if err != nil {
		a.logger.Error("Duplicate check failed", err)
		return
	}
	for _, d := range dups {
		a.logger.WarnWithContext("Templates look identical", logging.Fields{"a": d.A, "b": d.B, "distance": d.Distance})
	}
}
