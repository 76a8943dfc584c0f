package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/app"
	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetState := flag.Bool("reset-state", false, "Clear stored switch snapshots on startup")
	check := flag.String("check", "", "Print the resolved schedule state of a switch and exit")
	at := flag.String("at", "", "Instant for --check in RFC3339 (default: now)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	if *check != "" {
		if err := runCheck(cfg, *check, *at); err != nil {
			log.Fatal().Err(err).Msg("Check failed")
		}
		return
	}

	log.Info().Str("config", configPath).Msg("Starting switchd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *resetState {
		log.Info().Msg("Clearing stored switch state (--reset-state)")
		if err := application.ClearState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear switch state")
		}
	}

	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// runCheck resolves one switch's plan without touching devices or storage.
func runCheck(cfg *config.Config, switchID, at string) error {
	sw, ok := cfg.Switch(switchID)
	if !ok {
		return fmt.Errorf("unknown switch %q", switchID)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	plan, err := sw.Schedule.Build(loc)
	if err != nil {
		return err
	}

	instant := time.Now().In(loc)
	if at != "" {
		instant, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	st := weekplan.Resolve(plan, instant)
	if st.Empty() {
		fmt.Printf("%s: no schedule in effect at %s\n", sw.ID, instant.In(loc).Format(weekplan.DisplayLayout))
		return nil
	}
	fmt.Printf("%s: %s\n", sw.ID, st)
	return nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
