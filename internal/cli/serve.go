package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/metrics"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
	"github.com/rcliao/persona-proxy/internal/provider"
	"github.com/rcliao/persona-proxy/internal/proxy"
	"github.com/rcliao/persona-proxy/internal/server"
	"github.com/rcliao/persona-proxy/internal/store"
	"github.com/rcliao/persona-proxy/internal/textproc"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadSettings()
	log := newLogger(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := provider.New(ctx, cfg.Provider, log)
	if err != nil {
		exitErr("init provider", err)
	}

	snaps, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer snaps.Close()

	m := metrics.New()
	lb := lore.NewStore(log)
	persist := snapshotWriter(ctx, snaps, lb, m, log)
	bootstrapLore(ctx, cfg, lb, snaps, persist, log)

	svc := proxy.New(cfg, p,
		pipeline.NewMessages(lb, textproc.NewRandRoller(0), log),
		pipeline.NewResponses(log),
		m, log)
	srv := server.New(server.Options{
		Service:   svc,
		Lore:      lb,
		Snapshots: snaps,
		Metrics:   m,
		Log:       log,
	})

	log.Info("starting persona-proxy",
		zap.String("provider", p.Name()),
		zap.String("model", cfg.Provider.Model),
		zap.String("bypass_level", cfg.Content.BypassLevel),
		zap.Bool("lorebook", cfg.Lorebook.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if cfg.Lorebook.Watch && cfg.Lorebook.Path != "" {
		w := lore.NewWatcher(lb, cfg.Lorebook.Path, func(blob string) { persist(model.SourceFile, blob) }, log)
		g.Go(func() error { return w.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		exitErr("serve", err)
	}
}

// snapshotWriter returns a callback that records an accepted lorebook blob
// in the history store.
func snapshotWriter(ctx context.Context, snaps store.Store, lb *lore.Store, m *metrics.Metrics, log *zap.Logger) func(source, blob string) {
	return func(source, blob string) {
		m.LorebookReload(true)
		snap, err := snaps.Put(ctx, store.PutParams{
			Name:       store.DefaultName,
			Content:    blob,
			Source:     source,
			Characters: lb.Stats().Characters,
		})
		if err != nil {
			log.Warn("persist lorebook snapshot", zap.Error(err))
			return
		}
		log.Info("lorebook snapshot", zap.Int("version", snap.Version), zap.String("source", source))
	}
}

// bootstrapLore loads the first available lorebook source: inline content,
// then the configured file, then the latest stored snapshot.
func bootstrapLore(ctx context.Context, cfg config.Settings, lb *lore.Store, snaps store.Store, persist func(source, blob string), log *zap.Logger) {
	if cfg.Lorebook.Content != "" {
		if lb.Load(cfg.Lorebook.Content) {
			persist(model.SourceConfig, cfg.Lorebook.Content)
			return
		}
		log.Warn("inline lorebook rejected")
	}

	if cfg.Lorebook.Path != "" {
		data, err := os.ReadFile(cfg.Lorebook.Path)
		switch {
		case err != nil:
			log.Warn("read lorebook file", zap.String("path", cfg.Lorebook.Path), zap.Error(err))
		case lb.Load(string(data)):
			persist(model.SourceFile, string(data))
			return
		default:
			log.Warn("lorebook file rejected", zap.String("path", cfg.Lorebook.Path))
		}
	}

	snap, err := snaps.Latest(ctx, store.DefaultName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("load lorebook snapshot", zap.Error(err))
		}
		return
	}
	if lb.Load(snap.Content) {
		log.Info("lorebook restored", zap.Int("version", snap.Version))
	}
}
