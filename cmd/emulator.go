package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/gen2brain/beeep"
	cli "github.com/spf13/cobra"

	"gitlab.com/web-doodle/emubot/pkg/emulator"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
)

var (
	openCmd = &cli.Command{
		Use:   "open",
		Short: "Launch BlueStacks and wait until it is ready",
		RunE:  Open,
	}
	killCmd = &cli.Command{
		Use:   "kill",
		Short: "Disconnect adb and terminate BlueStacks",
		RunE:  Kill,
	}
	statusCmd = &cli.Command{
		Use:   "status",
		Short: "Print the emulator state and the app in focus",
		RunE:  Status,
	}
)

func init() {
	rootCmd.AddCommand(openCmd, killCmd, statusCmd)

	openCmd.PersistentFlags().Int("max-retries", 0, "Process checks after launching. Defaults to the configured value.")
	openCmd.PersistentFlags().Duration("timeout", 0, "Upper bound for the process to appear. Defaults to the configured value.")
	openCmd.PersistentFlags().Bool("notify", false, "Show a desktop notification once the emulator is ready.")
}

func Open(cmd *cli.Command, args []string) error {
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	notify, _ := cmd.Flags().GetBool("notify")

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := emulator.DefaultOpenOptions(cfg.Emulator)
	if maxRetries > 0 {
		opts.MaxRetries = maxRetries
	}
	if timeout > 0 {
		opts.Timeout = timeout
	}

	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	s.Suffix = " waiting for BlueStacks"
	s.Start()
	err = rt.emulator.Open(ctx, opts)
	s.Stop()
	if err != nil {
		return err
	}

	fmt.Println(rt.emulator.State())
	if notify {
		_ = beeep.Notify("emubot", "BlueStacks is ready", "")
	}
	return nil
}

func Kill(cmd *cli.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = attach(ctx, rt)
	if errors.Is(err, emulator.ErrNotRunning) {
		fmt.Println("BlueStacks is not running")
		return nil
	}
	// A load that never finished still leaves something to kill.
	if rt.emulator.State() == statemachine.EmulatorClosed {
		return err
	}
	return rt.emulator.Kill(ctx)
}

func Status(cmd *cli.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	attachErr := attach(ctx, rt)
	if err := printState(os.Stdout, rt.emulator.State(), attachErr); err != nil {
		return err
	}
	if !rt.ctrl.IsEmulatorReady() {
		return nil
	}
	current, err := rt.ctrl.CurrentApp(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("adb:      %s\n", rt.adb.Serial())
	fmt.Printf("focus:    %s\n", current)
	return nil
}

// printState reports the state reached by attach, then the attach error. A
// missing emulator is a state, not a failure.
func printState(w io.Writer, state statemachine.EmulatorState, attachErr error) error {
	fmt.Fprintf(w, "emulator: %s\n", state)
	if errors.Is(attachErr, emulator.ErrNotRunning) {
		return nil
	}
	return attachErr
}

// attach adopts a running emulator, bounded by the configured load timeout.
func attach(ctx context.Context, rt *runtime) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Emulator.LoadTimeout()+cfg.Emulator.Timeout())
	defer cancel()
	return rt.emulator.Attach(ctx)
}

// ready attaches and insists on READY.
func ready(ctx context.Context, rt *runtime) error {
	if err := attach(ctx, rt); err != nil {
		return err
	}
	if !rt.ctrl.IsEmulatorReady() {
		return fmt.Errorf("emulator is %s", rt.emulator.State())
	}
	return nil
}
