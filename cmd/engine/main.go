package main

import (
	"context"
	"flag"
	"log"

	_ "github.com/joho/godotenv/autoload"

	"github.com/HowardHan99/RerunPublicRobot/internal/app"
	"github.com/HowardHan99/RerunPublicRobot/internal/config"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yml", "path to the config file")
	flag.Parse()

	settings, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := app.Config{
		Logger:   telemetry.WrapLogger(log.Default()),
		Settings: settings,
	}
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
