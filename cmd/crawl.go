package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/api"
	"github.com/JakeFAU/snowball-crawler/internal/app"
	"github.com/JakeFAU/snowball-crawler/internal/config"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// crawlEngine is the engine surface the crawl command drives.
type crawlEngine interface {
	Load(ctx context.Context) (*crawler.State, error)
	Run(ctx context.Context, state *crawler.State, seeds []string) (crawler.Summary, error)
	Status() crawler.Status
}

// crawlApp is the application surface the crawl command needs.
type crawlApp interface {
	Engine() crawlEngine
	Seeds(args []string) []string
	Close() error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Engine() crawlEngine { return a.App.Engine() }

// newApp is a variable so tests can inject a fake application.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlApp, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

func newCrawlCmd() *cobra.Command {
	var (
		target int
		serve  bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [seed...]",
		Short: "Runs or resumes the crawl",
		Long: `Resumes from the configured checkpoint and crawls until the target number
of kept matches is reached or no players remain. Seeds are "GameName#TagLine"
Riot ids or raw PUUIDs; when none are given the configured seeds are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("target") {
				rt.cfg.Crawler.Target = target
			}
			if cmd.Flags().Changed("serve") {
				rt.cfg.Server.Enabled = serve
			}
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			if err := rt.cfg.RequireAPIKey(); err != nil {
				return err
			}
			return runCrawl(cmd, rt, args)
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "number of kept matches to stop at (overrides config)")
	cmd.Flags().BoolVar(&serve, "serve", false, "expose the status server while crawling")
	return cmd
}

func runCrawl(cmd *cobra.Command, rt *runtime, args []string) error {
	ctx := cmd.Context()
	logger := rt.logger

	a, err := newApp(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close application", zap.Error(cerr))
		}
	}()

	engine := a.Engine()
	state, err := engine.Load(ctx)
	if err != nil {
		return err
	}

	if rt.cfg.Server.Enabled {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := api.NewServer(engine, api.Options{APIKey: rt.cfg.Server.APIKey}, logger.Named("api"))
		addr := fmt.Sprintf(":%d", rt.cfg.Server.Port)
		go func() {
			if err := srv.ListenAndServe(srvCtx, addr); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	summary, runErr := engine.Run(ctx, state, a.Seeds(args))
	if summary.Outcome != "" {
		renderSummary(cmd.OutOrStdout(), summary)
	}
	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, crawler.ErrFinalSave):
		return fmt.Errorf("crawl stopped without saving progress: %w", runErr)
	case errors.Is(runErr, context.Canceled):
		logger.Info("crawl interrupted, progress saved", zap.Int("kept", summary.Kept))
		return nil
	default:
		return fmt.Errorf("crawl failed: %w", runErr)
	}
}
