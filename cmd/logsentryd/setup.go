package main

import (
	"flag"
	"fmt"

	"github.com/logsentry/logsentry/internal/config"
	"github.com/logsentry/logsentry/internal/daemon"
)

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	foreground := fs.Bool("foreground", false, "run in the foreground instead of forking a background process")
	configPath := fs.String("config", "", "path to an explicit config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return daemon.Run(cfg, *foreground)
}

func cmdStop() error {
	return daemon.Stop()
}

func cmdStatus() error {
	return daemon.Status()
}

func cmdInitConfig() error {
	if err := config.InitConfig(); err != nil {
		return err
	}
	fmt.Printf("wrote default config to %s\n", config.ConfigFilePath())
	return nil
}

func cmdInstallService() error {
	if err := daemon.InstallService(); err != nil {
		return err
	}
	fmt.Println("logsentryd service installed")
	return nil
}

func cmdUninstallService() error {
	if err := daemon.UninstallService(); err != nil {
		return err
	}
	fmt.Println("logsentryd service uninstalled")
	return nil
}

func cmdConfigExport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: logsentryd config-export <path>")
	}
	return config.ExportConfig(args[0])
}

func cmdConfigImport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: logsentryd config-import <path>")
	}
	return config.ImportConfig(args[0])
}
