package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ssepush-lite/internal/config"
	"ssepush-lite/internal/installation"
	"ssepush-lite/internal/localstore"
	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/rest"
)

type globalFlags struct {
	baseURL  string
	file     string
	logLevel string
}

// app is what every command works with once flags and environment are read.
type app struct {
	cfg     config.ClientConfig
	log     *logrus.Logger
	service *installation.Service
}

// flagEnv lets non-empty flags win over the process environment.
type flagEnv struct {
	overrides map[string]string
	base      config.Env
}

func (e flagEnv) Getenv(key string) string {
	if v := e.overrides[key]; v != "" {
		return v
	}
	return e.base.Getenv(key)
}

type processEnv struct{}

func (processEnv) Getenv(key string) string { return os.Getenv(key) }

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "pushctl",
		Short:         "Manage this device's push installation and listen for messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "Backend base URL (PUSH_BASE_URL)")
	cmd.PersistentFlags().StringVar(&flags.file, "file", "", "Installation file (PUSH_INSTALLATION_FILE)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (PUSH_LOG_LEVEL)")

	cmd.AddCommand(
		newShowCommand(flags),
		newSaveCommand(flags),
		newRefreshCommand(flags),
		newDeleteCommand(flags),
		newListCommand(flags),
		newListenCommand(flags),
	)
	return cmd
}

func loadApp(flags *globalFlags) (*app, error) {
	env := flagEnv{
		overrides: map[string]string{
			"PUSH_BASE_URL":          flags.baseURL,
			"PUSH_INSTALLATION_FILE": flags.file,
			"PUSH_LOG_LEVEL":         flags.logLevel,
		},
		base: processEnv{},
	}
	cfg, err := config.LoadClientConfigFromEnv(env)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, "text")
	if err != nil {
		return nil, err
	}
	log.SetOutput(os.Stderr)

	exec, err := rest.New(rest.Config{
		BaseURL:      cfg.BaseURL,
		AppID:        cfg.AppID,
		AppKey:       cfg.AppKey,
		MasterKey:    cfg.MasterKey,
		SessionToken: cfg.SessionToken,
		Timeout:      cfg.HTTPTimeout,
	}, rest.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	svc := installation.New(
		localstore.New(localstore.NewFileSlot(cfg.InstallationFile)),
		exec,
		installation.WithLogger(log),
		installation.WithAppVersion(cfg.AppVersion),
	)
	return &app{cfg: cfg, log: log, service: svc}, nil
}
