package main

import (
	"fmt"

	cli "github.com/spf13/cobra"

	"gitlab.com/web-doodle/emubot/pkg/app"
	"gitlab.com/web-doodle/emubot/pkg/element"
)

var (
	appCmd = &cli.Command{
		Use:   "app",
		Short: "Manage an Android app inside the emulator",
	}
	appOpenCmd = &cli.Command{
		Use:   "open",
		Short: "Launch the app and wait until it is ready",
		RunE:  AppOpen,
	}
	appCloseCmd = &cli.Command{
		Use:   "close",
		Short: "Force stop the app",
		RunE:  AppClose,
	}
	appStatusCmd = &cli.Command{
		Use:   "status",
		Short: "Report whether the app is running",
		RunE:  AppStatus,
	}
)

func init() {
	rootCmd.AddCommand(appCmd)
	appCmd.AddCommand(appOpenCmd, appCloseCmd, appStatusCmd)

	appCmd.PersistentFlags().StringP("package", "p", "", "Android package name, e.g. com.example.game.")
	appCmd.PersistentFlags().StringP("name", "n", "", "Display name. Defaults to the package name.")
	appOpenCmd.PersistentFlags().String("ready-image", "", "Template image that is visible once the app is ready.")
	appOpenCmd.PersistentFlags().Duration("timeout", 0, "Readiness timeout. Defaults to the configured value.")
	_ = appCmd.MarkPersistentFlagRequired("package")
}

// registeredApp builds the app from flags and registers it with rt.
func registeredApp(cmd *cli.Command, rt *runtime) (*app.App, error) {
	pkg, _ := cmd.Flags().GetString("package")
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = pkg
	}

	opts := []app.Option{app.WithConfig(cfg.App), app.WithLogger(logger)}
	if cmd.Flags().Lookup("ready-image") != nil {
		if readyImage, _ := cmd.Flags().GetString("ready-image"); readyImage != "" {
			e, err := element.NewFactory(cfg).Image(name+"_ready", readyImage)
			if err != nil {
				return nil, err
			}
			opts = append(opts, app.WithReadyElement(e))
		}
	}

	a, err := app.New(name, pkg, opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.ctrl.AddApp(a); err != nil {
		return nil, err
	}
	return a, nil
}

func AppOpen(cmd *cli.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	a, err := registeredApp(cmd, rt)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	if err := a.WaitReady(ctx, timeout); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", a, a.State())
	return nil
}

func AppClose(cmd *cli.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	a, err := registeredApp(cmd, rt)
	if err != nil {
		return err
	}
	if err := a.Close(ctx); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", a, a.State())
	return nil
}

func AppStatus(cmd *cli.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := ready(ctx, rt); err != nil {
		return err
	}

	a, err := registeredApp(cmd, rt)
	if err != nil {
		return err
	}
	running := rt.ctrl.IsAppRunning(ctx, a.PackageName(), cfg.ADB.AppCheckRetries, cfg.ADB.AppCheckWait())
	fmt.Printf("%s running: %t\n", a, running)
	return nil
}
