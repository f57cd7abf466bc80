// Command reel plays media files and live feeds with synchronized video,
// audio and subtitles, and serves a control API for remote playback.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/source"
	"github.com/zsiec/reel/internal/source/mp4"
	srtsource "github.com/zsiec/reel/internal/source/srt"
	"github.com/zsiec/reel/internal/source/ts"
)

var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" type:"existingfile" help:"YAML configuration file."`
	LogLevel string `short:"l" help:"Log level (debug, info, warn, error); overrides the configuration."`

	Play    PlayCmd    `cmd:"" help:"Play a file or feed until it ends or is interrupted."`
	Serve   ServeCmd   `cmd:"" help:"Serve the control API and accept live feeds."`
	Probe   ProbeCmd   `cmd:"" help:"Print what a file or feed contains."`
	Push    PushCmd    `cmd:"" help:"Publish a transport stream file to an SRT listener in real time."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// globals is what every command receives after flag parsing.
type globals struct {
	cfg     config.Config
	log     *slog.Logger
	sources *source.Registry
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("reel"),
		kong.Description("Synchronized audio/video/subtitle playback engine."),
		kong.UsageOnError(),
		kong.Vars{"formats": formatsHelp()},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if kctx.Command() == "version" {
		kctx.FatalIfErrorf(kctx.Run())
		return
	}

	g, err := cli.setup()
	kctx.FatalIfErrorf(err)
	kctx.FatalIfErrorf(kctx.Run(g))
}

// setup loads the configuration and builds the logger and source registry.
func (c *CLI) setup() (*globals, error) {
	cfg := config.Defaults()
	if c.Config != "" {
		var err error
		if cfg, err = config.LoadFile(c.Config); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if os.Getenv("DEBUG") != "" {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	return &globals{cfg: cfg, log: log, sources: newSources()}, nil
}

// newLogger writes human-readable text to a terminal and JSON otherwise.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newSources() *source.Registry {
	r := source.NewRegistry()
	r.Register("ts", ts.Open)
	r.Register("mp4", mp4.Open)
	r.Register("srt", srtsource.Open)
	return r
}

// ProbeCmd prints the Info of a source as JSON.
type ProbeCmd struct {
	Location string `arg:"" help:"File path or srt:// URL."`
	Format   string `short:"f" help:"Container format (${formats}); detected when empty."`
}

// Run executes the probe command.
func (p *ProbeCmd) Run(ctx context.Context, g *globals) error {
	src, err := g.sources.Open(ctx, p.Format, p.Location, source.Options{FPS: g.cfg.Playback.FPS, Log: g.log})
	if err != nil {
		return err
	}
	defer src.Close()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(src.Info())
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run prints the version.
func (VersionCmd) Run() error {
	fmt.Printf("reel %s\n", version)
	return nil
}

func formatsHelp() string {
	return strings.Join(newSources().Formats(), ", ")
}
