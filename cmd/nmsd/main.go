package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/nvr-ai/go-nms/server"
	"github.com/nvr-ai/go-nms/util"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		addr       string
		configPath string
		maxBody    int64
		debug      bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	flag.StringVar(&configPath, "config", "", "Path to the base NMS configuration (YAML or JSON)")
	flag.Int64Var(&maxBody, "max-body", server.DefaultMaxBodyBytes, "Maximum request body size in bytes")
	flag.BoolVar(&debug, "debug", false, "Log one line per suppressed image")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := postprocess.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = util.LoadConfig(configPath); err != nil {
			log.WithError(err).Fatal("loading config")
		}
	}

	handler, err := server.New(server.NewServerArgs{Config: cfg, Logger: log, MaxBodyBytes: maxBody})
	if err != nil {
		log.WithError(err).Fatal("creating server")
	}

	srv := &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"addr": srv.Addr, "workers": cfg.NumWorkers}).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("serving")
	}
}
