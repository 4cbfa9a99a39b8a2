package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/adb"
	"gitlab.com/web-doodle/emubot/pkg/controller"
	"gitlab.com/web-doodle/emubot/pkg/desktop"
	"gitlab.com/web-doodle/emubot/pkg/emulator"
	"gitlab.com/web-doodle/emubot/pkg/matcher"
	"gitlab.com/web-doodle/emubot/pkg/metrics"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/ocr/rekognition"
	"gitlab.com/web-doodle/emubot/pkg/ocr/tesseract"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
	"gitlab.com/web-doodle/emubot/pkg/vision"
	"gitlab.com/web-doodle/emubot/pkg/vision/cv"
)

// runtime is everything a command needs, wired from cfg.
type runtime struct {
	metrics  *metrics.Metrics
	adb      *adb.Client
	emulator *emulator.Controller
	ctrl     *controller.Controller
	checker  *ocr.Checker
	closers  []func() error
}

func newRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := rt.metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	engine, err := newOCREngine(ctx, rt)
	if err != nil {
		return nil, err
	}
	fallback := &ocr.DefaultStrategy{
		UpscaleFactor: cfg.OCR.UpscaleFactor,
		InversionMean: cfg.OCR.InversionMean,
		Args:          cfg.OCR.TesseractArgs,
	}
	rt.checker = ocr.NewChecker(engine, fallback, logger)

	templates := vision.NewTemplateCache()
	locator := cv.NewLocator()
	matcherOpts := []matcher.Option{
		matcher.WithTemplateCache(templates),
		matcher.WithObserver(rt.metrics),
	}
	var dumper matcher.Dumper
	if cfg.Debug.Enabled {
		d, err := cv.NewDumper(cfg.Debug.DumpDir, logger)
		if err != nil {
			return nil, err
		}
		dumper = d
		matcherOpts = append(matcherOpts, matcher.WithDumper(d))
	}

	// The emulator always hands over its own screenshots.
	emuMatcher := matcher.New(nil, locator, rt.checker, logger, matcherOpts...)

	rt.adb = adb.New(cfg.ADB, logger)
	rt.emulator, err = emulator.New(cfg.Emulator, emulator.Deps{
		Processes:  desktop.NewProcesses(),
		Launcher:   desktop.Launcher{},
		Executable: emulator.NewDiscovery(cfg.Emulator, logger),
		Window:     desktop.NewWindow(cfg.Emulator.ProcessName, logger),
		Transport:  rt.adb,
		Matcher:    emuMatcher,
	}, logger, emulator.WithTransitionHook(func(s statemachine.EmulatorState) {
		rt.metrics.ObserveTransition("emulator", s.String())
		rt.metrics.SetEmulatorState(int(s))
	}))
	if err != nil {
		return nil, err
	}

	rt.ctrl = controller.New(cfg, controller.Deps{
		Transport: rt.adb,
		Emulator:  rt.emulator,
		Window:    desktop.NewWindow(cfg.Emulator.ProcessName, logger),
		Locator:   locator,
		Text:      rt.checker,
		Templates: templates,
		Recorder:  rt.metrics,
		Dumper:    dumper,
	}, logger)
	return rt, nil
}

func newOCREngine(ctx context.Context, rt *runtime) (ocr.Engine, error) {
	switch cfg.OCR.Engine {
	case "rekognition":
		return rekognition.New(ctx, cfg.AWS, cfg.OCR.MinLineConfid, logger)
	case "tesseract":
		engine, err := tesseract.New(cfg.OCR.Languages...)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, engine.Close)
		return engine, nil
	}
	return nil, fmt.Errorf("unknown ocr engine %q", cfg.OCR.Engine)
}

// open brings the emulator to READY and connects adb.
func (rt *runtime) open(ctx context.Context) error {
	return rt.emulator.Open(ctx, emulator.DefaultOpenOptions(cfg.Emulator))
}

func (rt *runtime) Close() {
	if err := rt.ctrl.Disconnect(context.Background()); err != nil {
		logger.Warn("disconnect failed", zap.Error(err))
	}
	for _, c := range rt.closers {
		if err := c(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}
