package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"go-config-runner/internal/app"
	"go-config-runner/internal/classify"
	"go-config-runner/internal/events"
	"go-config-runner/internal/job"
	"go-config-runner/internal/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "runner",
	Short:        "Run configs and proxy checks from the command line",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		logger.InitWithWriter(level, os.Stderr)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a config against a wordlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		wordlist, _ := cmd.Flags().GetString("wordlist")
		proxies, _ := cmd.Flags().GetStringSlice("proxies")
		proxyType, _ := cmd.Flags().GetString("proxy-type")
		maxUses, _ := cmd.Flags().GetInt("max-uses")

		def := job.Definition{
			ID:     uuid.NewString(),
			Name:   filepath.Base(wordlist),
			Kind:   job.MultiRun,
			Config: strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath)),
			Data:   job.DataSpec{Type: job.DataFile, Path: wordlist},
		}
		def.Bots, _ = cmd.Flags().GetInt("bots")
		def.BanLoopEvasion, _ = cmd.Flags().GetInt("ban-loop")
		def.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
		def.StartAt, _ = cmd.Flags().GetInt64("skip")
		def.Proxies = proxyFiles(proxies, proxyType)
		if def.Proxies != nil {
			def.Proxies.MaxUses = maxUses
		}

		builder := &app.Builder{Configs: classify.NewConfigStore(filepath.Dir(configPath))}
		return execute(cmd.Context(), builder, def, cmd.OutOrStdout())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a proxy list against a target",
	RunE: func(cmd *cobra.Command, args []string) error {
		proxies, _ := cmd.Flags().GetStringSlice("proxies")
		proxyType, _ := cmd.Flags().GetString("proxy-type")

		def := job.Definition{
			ID:      uuid.NewString(),
			Name:    "proxy-check",
			Kind:    job.ProxyCheck,
			Proxies: proxyFiles(proxies, proxyType),
		}
		def.Bots, _ = cmd.Flags().GetInt("bots")
		def.CheckTarget, _ = cmd.Flags().GetString("target")
		def.CheckKey, _ = cmd.Flags().GetString("key")
		def.ItemTimeoutSeconds, _ = cmd.Flags().GetInt("timeout")

		return execute(cmd.Context(), &app.Builder{}, def, cmd.OutOrStdout())
	},
}

// proxyFiles turns one or more proxy list paths into a single spec.
func proxyFiles(paths []string, proxyType string) *job.ProxySpec {
	if len(paths) == 0 {
		return nil
	}
	spec := &job.ProxySpec{Source: job.ProxyFile, Path: paths[0], Type: proxyType}
	for _, p := range paths[1:] {
		spec.Also = append(spec.Also, job.ProxySpec{Source: job.ProxyFile, Path: p, Type: proxyType})
	}
	return spec
}

// execute runs def to completion. Hits go to out, progress to the log.
// An interrupt aborts the job.
func execute(ctx context.Context, b *app.Builder, def job.Definition, out io.Writer) error {
	if err := def.Validate(); err != nil {
		return err
	}

	bus := events.NewBus()
	b.Events = bus
	sub, unsubscribe := bus.Subscribe(1024)
	defer unsubscribe()

	j, err := b.Build(def)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := j.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", def.Name, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = j.Wait(context.Background())
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	interrupted := ctx.Done()
	for {
		select {
		case e := <-sub:
			if hit, ok := e.Data.(job.HitRecord); ok && e.Type == events.HitFound {
				printHit(out, hit)
			}
		case <-ticker.C:
			logProgress(j.Snapshot())
		case <-interrupted:
			interrupted = nil
			log.Warn().Msg("Interrupted, aborting")
			if err := j.Abort(); err != nil {
				log.Error().Err(err).Msg("Failed to abort")
			}
		case <-done:
			for {
				select {
				case e := <-sub:
					if hit, ok := e.Data.(job.HitRecord); ok && e.Type == events.HitFound {
						printHit(out, hit)
					}
				default:
					snap := j.Snapshot()
					logProgress(snap)
					if snap.LastError != "" {
						return fmt.Errorf("%s ended with error: %s", def.Name, snap.LastError)
					}
					return nil
				}
			}
		}
	}
}

func printHit(w io.Writer, hit job.HitRecord) {
	var b strings.Builder
	b.WriteString(hit.Classification.String())
	b.WriteString(" | ")
	b.WriteString(hit.Input)
	for _, name := range slices.Sorted(maps.Keys(hit.Captured)) {
		fmt.Fprintf(&b, " | %s = %s", name, hit.Captured[name])
	}
	if hit.Proxy != "" && hit.Input != hit.Proxy {
		b.WriteString(" | ")
		b.WriteString(hit.Proxy)
	}
	fmt.Fprintln(w, b.String())
}

func logProgress(s job.Snapshot) {
	ev := log.Info().
		Str("status", string(s.Status)).
		Int64("tested", s.Tested).
		Int64("hits", s.Hits).
		Int64("fails", s.Fails).
		Int64("bans", s.Bans).
		Int64("retries", s.Retries).
		Int64("errors", s.Errors).
		Float64("cpm", s.CPM)
	if s.Progress != nil {
		ev = ev.Float64("progress", *s.Progress)
	}
	ev.Msg("Progress")
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().String("config", "", "Path to the runner config (.ini)")
	runCmd.Flags().String("wordlist", "", "Path to the wordlist")
	runCmd.Flags().StringSlice("proxies", nil, "Proxy list files (repeatable)")
	runCmd.Flags().String("proxy-type", "http", "Type assumed for proxy lines without a scheme")
	runCmd.Flags().Int("bots", 10, "Number of concurrent bots")
	runCmd.Flags().Int("max-uses", 0, "Maximum uses per proxy (0 = unlimited)")
	runCmd.Flags().Int("ban-loop", 100, "Bans of one item before it fails")
	runCmd.Flags().Int("max-retries", 10, "Retries of one item before it fails")
	runCmd.Flags().Int64("skip", 0, "Skip this many items")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("wordlist")

	checkCmd.Flags().StringSlice("proxies", nil, "Proxy list files (repeatable)")
	checkCmd.Flags().String("proxy-type", "http", "Type assumed for proxy lines without a scheme")
	checkCmd.Flags().String("target", "https://www.google.com", "URL fetched through every proxy")
	checkCmd.Flags().String("key", "", "Text the response must contain")
	checkCmd.Flags().Int("bots", 50, "Number of concurrent checks")
	checkCmd.Flags().Int("timeout", 10, "Per-proxy timeout in seconds")
	_ = checkCmd.MarkFlagRequired("proxies")

	rootCmd.AddCommand(runCmd, checkCmd)
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
