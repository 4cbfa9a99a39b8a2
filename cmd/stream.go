package main

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	cli "github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	streamCmd = &cli.Command{
		Use:   "stream",
		Short: "Poll screenshots and save each new frame to a directory",
		RunE:  Stream,
	}
)

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.PersistentFlags().StringP("output", "o", "./output/frames", "Path to local output directory.")
	streamCmd.PersistentFlags().Duration("duration", 10*time.Second, "How long to stream for.")
}

func Stream(cmd *cli.Command, args []string) error {
	outputParentDir, _ := cmd.Flags().GetString("output")
	duration, _ := cmd.Flags().GetDuration("duration")

	outputDir := path.Join(outputParentDir, strconv.FormatInt(currentTs, 10))
	if err := os.MkdirAll(outputDir, 0755); err != nil {
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

	if err := rt.ctrl.StartStream(ctx); err != nil {
		return err
	}
	defer rt.ctrl.StopStream()

	deadline := time.After(duration)
	ticker := time.NewTicker(cfg.ADB.StreamInterval())
	defer ticker.Stop()
	var last uint64
	saved := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			fmt.Printf("%d frames saved to %s\n", saved, outputDir)
			return nil
		case <-ticker.C:
		}
		frame, ok := rt.ctrl.Frame()
		if !ok || frame.Seq == last {
			continue
		}
		last = frame.Seq
		name := path.Join(outputDir, fmt.Sprintf("%06d.png", frame.Seq))
		if err := os.WriteFile(name, frame.Data, 0644); err != nil {
			return err
		}
		saved++
		logger.Debug("frame saved", zap.String("path", name))
	}
}
