package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oneops-ai/incident-rca/app"
	"github.com/oneops-ai/incident-rca/config"
	"github.com/oneops-ai/incident-rca/infra/log"
)

func main() {
	if err := run(); err != nil {
		log.Errorf("运行失败: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.SetDefaultLog(cfg.LogCfg())
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			log.Errorf("关闭应用失败: %v", err)
		}
	}()

	if cfg.RunMode == config.RunModeServe {
		return application.Start(ctx)
	}
	return application.RunOnce(ctx)
}
