package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"matchreview/internal/buckets"
	"matchreview/internal/config"
	"matchreview/internal/deeplink"
	"matchreview/internal/gateway"
	"matchreview/internal/journal"
	"matchreview/internal/logging"
	"matchreview/internal/reconcile"
	"matchreview/internal/session"
)

type projectFlags struct {
	root  string
	movie string
	clip  string
}

type commandContext struct {
	configFlag *string
	project    *projectFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string, project *projectFlags) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		project:    project,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.config)
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// workspace is an opened project with everything a command needs to act on it.
type workspace struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *gateway.Service
	journal *journal.Store
	session *session.Session
}

func (w *workspace) Close() {
	if w.service != nil {
		w.service.Close()
	}
	if w.journal != nil {
		_ = w.journal.Close()
	}
}

// newWorkspace connects to the backend and the journal without opening a
// project.
func (c *commandContext) newWorkspace(opts ...session.Option) (*workspace, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.ensureLogger()

	client, err := gateway.New(cfg.Backend.BaseURL,
		gateway.WithTimeout(cfg.BackendTimeout()),
		gateway.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	bucket, ok := buckets.ParseBucket(cfg.Candidates.DefaultBucket)
	if !ok {
		bucket = buckets.Top
	}
	service := gateway.NewService(client)
	base := []session.Option{
		session.WithJournal(store),
		session.WithLogger(logger),
		session.WithSummaryQuery(gateway.SummaryQuery{
			Span:   cfg.Candidates.Span,
			K:      cfg.Candidates.K,
			Offset: cfg.Candidates.Offset,
		}),
		session.WithDefaultBucket(bucket),
		session.WithSpikePolicy(reconcile.SpikePolicy{
			CrossLimit: cfg.Anomaly.CrossLimitSeconds,
			RatioMin:   cfg.Anomaly.RatioMin,
			MinGap:     cfg.Anomaly.MinGapSeconds,
			Dominance:  cfg.Anomaly.Dominance,
		}),
	}
	return &workspace{
		cfg:     cfg,
		logger:  logger,
		service: service,
		journal: store,
		session: session.New(service, append(base, opts...)...),
	}, nil
}

// openWorkspace opens the project named by --root, or the most recently
// opened one.
func (c *commandContext) openWorkspace(ctx context.Context, opts ...session.Option) (*workspace, error) {
	ws, err := c.newWorkspace(opts...)
	if err != nil {
		return nil, err
	}
	req, err := c.projectRequest(ctx, ws.journal)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if err := ws.session.Open(ctx, req); err != nil {
		ws.Close()
		return nil, fmt.Errorf("open project %s: %w", req.Root, err)
	}
	return ws, nil
}

func (c *commandContext) projectRequest(ctx context.Context, store *journal.Store) (gateway.OpenProjectRequest, error) {
	flags := projectFlags{}
	if c.project != nil {
		flags = *c.project
	}
	if root := strings.TrimSpace(flags.root); root != "" {
		link, err := deeplink.Parse(root)
		if err != nil {
			return gateway.OpenProjectRequest{}, err
		}
		return gateway.OpenProjectRequest{
			Root:  link.Root,
			Movie: firstNonEmpty(flags.movie, link.Movie),
			Clip:  firstNonEmpty(flags.clip, link.Clip),
		}, nil
	}

	recent, err := store.RecentProjects(ctx, 1)
	if err != nil {
		return gateway.OpenProjectRequest{}, fmt.Errorf("read recent projects: %w", err)
	}
	if len(recent) == 0 {
		return gateway.OpenProjectRequest{}, errors.New("no project selected; run `matchreview open <root>` or pass --root")
	}
	last := recent[0]
	return gateway.OpenProjectRequest{
		Root:  last.Root,
		Movie: firstNonEmpty(flags.movie, last.Movie),
		Clip:  firstNonEmpty(flags.clip, last.Clip),
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
