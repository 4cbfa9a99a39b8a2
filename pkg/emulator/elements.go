package emulator

import (
	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/element"
)

// LoadingElement is the splash image BlueStacks shows while booting. Its
// disappearance marks the end of loading.
func LoadingElement(cfg config.EmulatorConfig) (*element.Element, error) {
	return element.NewImage(cfg.LoadingLabel, cfg.LoadingAsset,
		element.WithConfidence(cfg.LoadingConfid),
		element.WithResolution(cfg.ResolutionW, cfg.ResolutionH),
		element.WithText(cfg.LoadingText),
		element.Static(),
	)
}
