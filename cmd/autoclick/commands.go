package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"jordanella.com/autoclick-go/internal/actions"
	"jordanella.com/autoclick-go/internal/bot"
	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/database"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/input"
	"jordanella.com/autoclick-go/internal/logging"
	"jordanella.com/autoclick-go/internal/trajectory"
	"jordanella.com/autoclick-go/pkg/templates"
)

// parseFlags parses args, treating --help as success
func parseFlags(flags *pflag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// regionFlag overrides a region when the flag was given
func regionFlag(flags *pflag.FlagSet, name, value string, space display.Space) (*display.Region, error) {
	if !flags.Changed(name) {
		return nil, nil
	}
	r, err := display.ParseRegion(value, space)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type monitorOptions struct {
	region    string
	fps       float64
	templates []string
	scenes    string
	threshold float64
	journal   string
}

func runMonitor(args []string) error {
	var common commonFlags
	var opts monitorOptions
	flags := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVarP(&opts.region, "region", "r", "", "logical region left,top,width,height")
	flags.Float64Var(&opts.fps, "fps", 0, "capture rate")
	flags.StringSliceVarP(&opts.templates, "templates", "t", nil, "template definition files or images")
	flags.StringVar(&opts.scenes, "scenes", "", "scene rule file")
	flags.Float64Var(&opts.threshold, "threshold", 0, "default match threshold")
	flags.StringVar(&opts.journal, "journal", "", "sqlite journal path")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	region, err := regionFlag(flags, "region", opts.region, display.Logical)
	if err != nil {
		return err
	}
	if region != nil {
		settings.Region = region
	}
	if flags.Changed("fps") {
		settings.FPS = opts.fps
	}
	if flags.Changed("templates") {
		settings.Templates = opts.templates
	}
	if flags.Changed("scenes") {
		settings.Scenes = opts.scenes
	}
	if flags.Changed("threshold") {
		settings.Threshold = opts.threshold
	}
	if flags.Changed("journal") {
		settings.Journal = opts.journal
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	a := newApp(settings)
	if err := a.withEvents(); err != nil {
		return err
	}
	defer a.close()

	engine, registry, err := a.loadTemplates()
	if err != nil {
		return err
	}

	var scenes *bot.SceneSet
	if settings.Scenes != "" {
		scenes, err = bot.LoadScenes(settings.Scenes, registry.ImageCache(), nil, a.logger.Named("Scenes"))
		if err != nil {
			return err
		}
	}
	if len(engine.Templates()) == 0 && scenes.Len() == 0 {
		return fmt.Errorf("nothing to watch: configure templates or scenes")
	}

	target, err := a.physicalRegion(settings.Region)
	if err != nil {
		return err
	}
	a.checkTemplates(registry, *target)

	dispatcher := actions.NewDispatcher(input.NewRobotDriver(), a.mapper, input.NewHookWatcher(),
		actions.WithEventBus(a.bus),
		actions.WithAbortKey(settings.AbortKey),
		actions.WithLogger(a.logger.Named("Actions")),
	)

	capture := cv.NewCaptureService(a.capturer, a.mapper, a.logger.Named("Capture"))
	session := bot.NewSession(capture, engine, dispatcher,
		bot.WithScenes(scenes),
		bot.WithSessionEventBus(a.bus),
		bot.WithDefaultClick(settings.DefaultClick()),
		bot.WithSessionLogger(a.logger.Named("Session")),
	)

	ctx, cancel := signalContext()
	defer cancel()
	if err := session.Start(ctx, target, settings.FPS); err != nil {
		return err
	}

	<-ctx.Done()
	session.Stop()
	session.Wait()

	stats := session.Stats()
	a.logger.InfoWithContext("Monitor finished", logging.Fields{
		"frames":         stats.Frames,
		"template_hits":  stats.TemplateMatches,
		"scene_hits":     stats.SceneMatches,
		"triggered":      stats.Triggered,
		"dropped_events": a.bus.Dropped(),
	})
	return nil
}

func runCalibrate(args []string) error {
	var common commonFlags
	var region string
	var samples int
	flags := pflag.NewFlagSet("calibrate", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVarP(&region, "region", "r", "", "logical region left,top,width,height")
	flags.IntVarP(&samples, "samples", "n", 1, "number of frames to score")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	r, err := regionFlag(flags, "region", region, display.Logical)
	if err != nil {
		return err
	}
	if r != nil {
		settings.Region = r
	}

	a := newApp(settings)
	engine, _, err := a.loadTemplates()
	if err != nil {
		return err
	}
	if len(engine.Templates()) == 0 {
		return fmt.Errorf("no templates configured")
	}

	target, err := a.physicalRegion(settings.Region)
	if err != nil {
		return err
	}

	for i := 0; i < max(samples, 1); i++ {
		img, err := a.capturer.Grab(*target)
		if err != nil {
			return err
		}
		best, ok := engine.BestConfidence(&cv.Frame{Image: img, Captured: time.Now(), Region: *target})
		if !ok {
			return fmt.Errorf("every template is larger than region %v", target)
		}

		threshold := 0.0
		if t, ok := engine.Get(best.Template); ok {
			threshold = t.Threshold
		}
		fmt.Printf("%s confidence=%.4f threshold=%.2f at=(%d,%d) size=%dx%d metric=%s scale=%.2f\n",
			best.Template, best.Confidence, threshold, best.Location.X, best.Location.Y,
			best.Size.X, best.Size.Y, best.Metric, best.Scale)

		if i+1 < samples {
			time.Sleep(time.Duration(float64(time.Second) / settings.FPS))
		}
	}
	return nil
}

func runCaptureTemplate(args []string) error {
	var common commonFlags
	var region, name, dir string
	var physical bool
	flags := pflag.NewFlagSet("capture-template", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVarP(&region, "region", "r", "", "region left,top,width,height (required)")
	flags.StringVarP(&name, "name", "n", "", "template name, default program_capture_<time>")
	flags.StringVarP(&dir, "dir", "d", "templates", "output directory")
	flags.BoolVar(&physical, "physical", false, "region is in physical pixels")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	space := display.Logical
	if physical {
		space = display.Physical
	}
	r, err := regionFlag(flags, "region", region, space)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("--region is required")
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	a := newApp(settings)

	target, err := a.physicalRegion(r)
	if err != nil {
		return err
	}
	img, err := a.capturer.Grab(*target)
	if err != nil {
		return err
	}

	path, err := templates.SaveCapture(dir, name, img, a.captureMeta(*target))
	if err != nil {
		return err
	}
	a.logger.InfoWithContext("Template captured", logging.Fields{"path": path, "region": target.String()})
	fmt.Println(path)
	return nil
}

func runRecord(args []string) error {
	var common commonFlags
	var out string
	var hz float64
	var duration time.Duration
	flags := pflag.NewFlagSet("record", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVarP(&out, "out", "o", "trajectory.json", "output file")
	flags.Float64Var(&hz, "hz", 0, "move sampling rate")
	flags.DurationVar(&duration, "duration", 0, "stop after this long; default waits for Ctrl+C")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	if !flags.Changed("hz") {
		hz = settings.SampleHz
	}
	a := newApp(settings)

	recorder := trajectory.NewRecorder(trajectory.HookSource{}, hz, a.logger.Named("Recorder"))
	if !recorder.Start() {
		return fmt.Errorf("recorder did not start")
	}

	ctx, cancel := signalContext()
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}
	<-ctx.Done()

	script, _ := recorder.Stop()
	if err := trajectory.Save(out, script); err != nil {
		return err
	}
	fmt.Printf("%d events, %.2fs -> %s\n", len(script), script.Duration(), out)
	return nil
}

func runReplay(args []string) error {
	var common commonFlags
	var in string
	var loops int
	var infinite bool
	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVarP(&in, "in", "i", "trajectory.json", "trajectory file")
	flags.IntVarP(&loops, "loops", "l", 0, "number of passes")
	flags.BoolVar(&infinite, "infinite", false, "repeat until interrupted")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	if !flags.Changed("loops") {
		loops = settings.Loops
	}
	if !flags.Changed("infinite") {
		infinite = settings.Infinite
	}

	script, err := trajectory.Load(in)
	if err != nil {
		return err
	}

	a := newApp(settings)
	player := trajectory.NewPlayer(input.NewRobotDriver(), a.logger.Named("Player"))

	ctx, cancel := signalContext()
	defer cancel()
	done, err := player.Play(ctx, script, loops, infinite)
	fmt.Printf("%d loops completed\n", done)
	return err
}

func runStats(args []string) error {
	var common commonFlags
	var journal string
	var recent int
	var prune time.Duration
	flags := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	common.register(flags)
	flags.StringVar(&journal, "journal", "", "sqlite journal path")
	flags.IntVarP(&recent, "recent", "n", 10, "recent actions to list")
	flags.DurationVar(&prune, "prune", 0, "first delete rows older than this, e.g. 720h")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	settings, err := loadSettings(common)
	if err != nil {
		return err
	}
	if !flags.Changed("journal") {
		journal = settings.Journal
	}
	if journal == "" {
		return fmt.Errorf("no journal configured")
	}
	if _, err := os.Stat(journal); err != nil {
		return err
	}

	a := newApp(settings)
	db, err := database.OpenMigrated(filepath.Clean(journal), a.logger.Named("Journal"))
	if err != nil {
		return err
	}
	defer db.Close()

	if prune > 0 {
		removed, err := db.Prune(time.Now().Add(-prune))
		if err != nil {
			return err
		}
		if removed.Total() > 0 {
			if err := db.Vacuum(); err != nil {
				a.logger.Error("Vacuum failed", err)
			}
		}
		fmt.Printf("pruned %d rows\n", removed.Total())
	}

	counts, err := db.GetCounts()
	if err != nil {
		return err
	}
	fmt.Printf("sessions=%d actions=%d matches=%d capture_errors=%d\n",
		counts.Sessions, counts.Actions, counts.Matches, counts.CaptureErrors)

	outcomes, err := db.ActionCounts()
	if err != nil {
		return err
	}
	for outcome, n := range outcomes {
		fmt.Printf("  %-12s %d\n", outcome, n)
	}

	stats, err := db.TemplateStats()
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Printf("%-24s matches=%d avg=%.3f max=%.3f\n", s.Template, s.Matches, s.AvgConfidence, s.MaxConfidence)
	}

	latest, err := db.RecentActions(recent)
	if err != nil {
		return err
	}
	for _, r := range latest {
		fmt.Printf("%s %-12s %-24s (%d,%d) %s\n",
			r.OccurredAt.Format(time.RFC3339), r.Outcome, r.Name, r.X, r.Y, r.Reason)
	}
	return nil
}
