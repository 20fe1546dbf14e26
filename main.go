package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"haruki-hca-codec/api"
	"haruki-hca-codec/config"
	"haruki-hca-codec/utils/cricodecs/crihca"
	harukiLogger "haruki-hca-codec/utils/logger"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		harukiLogger.NewLogger("Main", "INFO", os.Stdout).Errorf("failed to load config %s: %v", config.Path(), err)
		os.Exit(1)
	}
	config.Cfg = cfg
	harukiLogger.SetDefaultLevel(config.Cfg.Backend.LogLevel)

	var logFile *os.File
	var loggerWriter io.Writer = os.Stdout
	if config.Cfg.Backend.MainLogFile != "" {
		logFile, err = os.OpenFile(config.Cfg.Backend.MainLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			mainLogger := harukiLogger.NewLogger("Main", config.Cfg.Backend.LogLevel, os.Stdout)
			mainLogger.Errorf("failed to open main log file: %v", err)
			os.Exit(1)
		}
		loggerWriter = io.MultiWriter(os.Stdout, logFile)
		defer func(logFile *os.File) {
			_ = logFile.Close()
		}(logFile)
	}
	mainLogger := harukiLogger.NewLogger("Main", config.Cfg.Backend.LogLevel, loggerWriter)
	mainLogger.Infof("========================= Haruki HCA Codec %s =========================", config.Version)
	mainLogger.Infof("Powered By Haruki Dev Team")

	for _, keycode := range config.Cfg.Codec.Keycodes {
		crihca.RegisterKeycode(keycode)
	}
	mainLogger.Infof("Loaded %d cipher keycodes, key search enabled: %v", len(config.Cfg.Codec.Keycodes), config.Cfg.Codec.SearchKeys)

	bodyLimit := config.Cfg.Backend.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 30
	}
	app := fiber.New(fiber.Config{
		BodyLimit:   bodyLimit * 1024 * 1024,
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})

	if config.Cfg.Backend.AccessLog != "" {
		logCfg := logger.Config{Format: config.Cfg.Backend.AccessLog}
		if config.Cfg.Backend.AccessLogPath != "" {
			accessLogFile, err := os.OpenFile(config.Cfg.Backend.AccessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				mainLogger.Errorf("failed to open access log file: %v", err)
				os.Exit(1)
			}
			defer func(accessLogFile *os.File) {
				_ = accessLogFile.Close()
			}(accessLogFile)
			logCfg.Stream = accessLogFile
		}
		app.Use(logger.New(logCfg))
	}

	api.RegisterRoutes(app)

	addr := fmt.Sprintf("%s:%d", config.Cfg.Backend.Host, config.Cfg.Backend.Port)
	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	if config.Cfg.Backend.SSL {
		listenCfg.CertFile = config.Cfg.Backend.SSLCert
		listenCfg.CertKeyFile = config.Cfg.Backend.SSLKey
	}
	mainLogger.Infof("Listening on %s (TLS: %v)", addr, config.Cfg.Backend.SSL)
	if err := app.Listen(addr, listenCfg); err != nil {
		mainLogger.Errorf("failed to start server: %v", err)
		os.Exit(1)
	}
}
