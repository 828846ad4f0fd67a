package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"motor-position-tuning/utils"
)

func main() {
	fs := pflag.NewFlagSet("position_tuning", pflag.ExitOnError)
	RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfgPath, _ := fs.GetString("config")
	cfg, err := LoadConfig(cfgPath, fs)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(2)
	}
	if show, _ := fs.GetBool("print-config"); show {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
			os.Exit(1)
		}
		return
	}

	log, err := utils.NewFileLogger(cfg.Log.File, utils.ParseLevel(cfg.Log.Level), cfg.Log.Stderr)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.Log.File + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log, os.Stdout, os.Stdin)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		log.Close()
		os.Exit(1)
	}

	runErr := runner.Run(ctx)
	if err := runner.Close(); err != nil {
		log.Error("Release hardware: %v", err)
	}
	if runErr != nil {
		log.Critical("Run failed: %v", runErr)
		log.Close()
		os.Exit(1)
	}
}
