package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	cli "github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/matcher"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/vision/cv"
)

var (
	findCmd = &cli.Command{
		Use:   "find",
		Short: "Locate an element on the emulator screen",
		RunE:  Find,
	}
	clickCmd = &cli.Command{
		Use:   "click",
		Short: "Locate an element and tap its center",
		RunE:  Click,
	}
	readTextCmd = &cli.Command{
		Use:   "read-text",
		Short: "Print the text lines on the emulator screen",
		RunE:  ReadText,
	}
)

func init() {
	rootCmd.AddCommand(findCmd, clickCmd, readTextCmd)

	for _, c := range []*cli.Command{findCmd, clickCmd} {
		addElementFlags(c.PersistentFlags())
		c.PersistentFlags().Int("max-tries", 0, "Match attempts. Zero uses the configured default, negative retries until interrupted.")
	}
	clickCmd.PersistentFlags().Int("times", 1, "Number of taps.")
	readTextCmd.PersistentFlags().Bool("intensify", false, "Preprocess for light outlined text instead of the default strategy.")
}

func addElementFlags(flags *pflag.FlagSet) {
	flags.StringP("label", "l", "cli_element", "Element label used in logs.")
	flags.StringP("image", "i", "", "Path to a template image to match.")
	flags.Bool("button", false, "Treat --image as a button.")
	flags.String("pixel", "", "Pixel position as x,y.")
	flags.String("color", "", "Expected pixel color as r,g,b.")
	flags.Int("tolerance", 0, "Per-channel pixel tolerance.")
	flags.StringP("text", "t", "", "Text to look for with OCR.")
	flags.String("region", "", "Search region as left,top,right,bottom in reference coordinates.")
	flags.Float64("confidence", 0, "Template match confidence. Defaults to the configured value.")
}

// elementFromFlags builds exactly one of image, button, pixel or text.
func elementFromFlags(flags *pflag.FlagSet) (*element.Element, error) {
	label, _ := flags.GetString("label")
	imagePath, _ := flags.GetString("image")
	button, _ := flags.GetBool("button")
	pixel, _ := flags.GetString("pixel")
	colour, _ := flags.GetString("color")
	tolerance, _ := flags.GetInt("tolerance")
	text, _ := flags.GetString("text")
	region, _ := flags.GetString("region")
	confidence, _ := flags.GetFloat64("confidence")

	var opts []element.Option
	if region != "" {
		r, err := parseInts(region, 4)
		if err != nil {
			return nil, fmt.Errorf("--region: %w", err)
		}
		opts = append(opts, element.WithPosition(r[0], r[1]), element.WithSize(r[2]-r[0], r[3]-r[1]))
	}
	if confidence > 0 {
		opts = append(opts, element.WithConfidence(confidence))
	}

	factory := element.NewFactory(cfg)
	switch {
	case imagePath != "" && button:
		return factory.Button(label, imagePath, opts...)
	case imagePath != "":
		return factory.Image(label, imagePath, opts...)
	case pixel != "":
		pos, err := parseInts(pixel, 2)
		if err != nil {
			return nil, fmt.Errorf("--pixel: %w", err)
		}
		rgb, err := parseInts(colour, 3)
		if err != nil {
			return nil, fmt.Errorf("--color: %w", err)
		}
		opts = append(opts, element.WithTolerance(tolerance))
		return factory.Pixel(label, element.Coords{X: pos[0], Y: pos[1]},
			element.Color{R: rgb[0], G: rgb[1], B: rgb[2]}, opts...)
	case text != "":
		return factory.Text(label, text, opts...)
	}
	return nil, errors.New("one of --image, --pixel or --text is required")
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated integers, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func findOptions(cmd *cli.Command) []matcher.FindOption {
	maxTries, _ := cmd.Flags().GetInt("max-tries")
	if maxTries == 0 {
		return nil
	}
	return []matcher.FindOption{matcher.WithMaxRetries(maxTries)}
}

func Find(cmd *cli.Command, args []string) error {
	e, err := elementFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	coords, ok := rt.ctrl.FindElement(ctx, e, findOptions(cmd)...)
	if !ok {
		return fmt.Errorf("%s not found", e)
	}
	fmt.Printf("%d,%d\n", coords.X, coords.Y)
	return nil
}

func Click(cmd *cli.Command, args []string) error {
	e, err := elementFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	times, _ := cmd.Flags().GetInt("times")

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	clicked, err := rt.ctrl.ClickElement(ctx, e, times, findOptions(cmd)...)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%s not found", e)
	}
	return nil
}

func ReadText(cmd *cli.Command, args []string) error {
	intensify, _ := cmd.Flags().GetBool("intensify")

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	var strategy ocr.Strategy
	if intensify {
		strategy = cv.NewIntensifyStrategy()
	}
	lines, err := rt.ctrl.ReadText(ctx, nil, strategy)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
