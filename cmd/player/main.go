// Package main provides the playback engine entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/engine"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/infra/audio"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/logger"
)

var (
	app        = kingpin.New("voicebox", "voicebox realtime voice notification player")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run executes the main player logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	eng, err := engine.New(cfg, engine.WithTransport(audio.NewController()))
	if err != nil {
		return err
	}
	defer eng.Dispose()

	eng.OnFailure(func(title string, err error) {
		fmt.Printf("!! playback failed: %s (%v)\n", title, err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("voicebox ready. Commands: play [n], pause, stop, next, seek <sec>, vol <0-1>, mute, repeat <none|one|all>, shuffle, list, status, quit")

	for {
		select {
		case sig := <-sigCh:
			zlog.Info().Msgf("Received signal %v, shutting down", sig)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(eng, strings.Fields(strings.TrimSpace(line))); quit {
				return nil
			}
		}
	}
}

func handleCommand(eng *engine.Engine, args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "play":
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				eng.PlayItem(n)
				return false
			}
		}
		eng.Play()
	case "pause":
		eng.Pause()
	case "stop":
		eng.Stop()
	case "next":
		eng.Next()
	case "seek":
		if len(args) > 1 {
			if sec, err := strconv.ParseFloat(args[1], 64); err == nil {
				eng.Seek(time.Duration(sec * float64(time.Second)))
			}
		}
	case "vol":
		if len(args) > 1 {
			if v, err := strconv.ParseFloat(args[1], 64); err == nil {
				eng.SetVolume(v)
			}
		}
	case "mute":
		eng.ToggleMute()
	case "repeat":
		if len(args) > 1 {
			switch args[1] {
			case "none":
				eng.SetRepeat(playback.RepeatNone)
			case "one":
				eng.SetRepeat(playback.RepeatOne)
			case "all":
				eng.SetRepeat(playback.RepeatAll)
			}
		}
	case "shuffle":
		eng.SetShuffle(!eng.Snapshot().Shuffle)
	case "list":
		for i, it := range eng.Items() {
			marker := " "
			if snap := eng.Snapshot(); snap.Current != nil && snap.Current.ID == it.ID {
				marker = ">"
			}
			fmt.Printf("%s %2d [%s] %s\n", marker, i, it.Status, it.Title)
		}
	case "status":
		snap := eng.Snapshot()
		title := "-"
		if snap.Current != nil {
			title = snap.Current.Title
		}
		fmt.Printf("state=%s track=%q pos=%s dur=%s vol=%.2f muted=%v repeat=%s shuffle=%v connected=%v %s\n",
			snap.State, title, snap.Position.Round(time.Second), snap.Duration.Round(time.Second),
			snap.Volume, snap.Muted, snap.Repeat, snap.Shuffle, eng.Connected(), eng.StreamingStatus())
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return false
}
