package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/cache"
	"github.com/peppermint-lab/peppermint/internal/config"
	"github.com/peppermint-lab/peppermint/internal/database"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/filters"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/parser"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/postmaster"
	"github.com/peppermint-lab/peppermint/internal/metrics"
	"github.com/peppermint-lab/peppermint/internal/oauth2"
	"github.com/peppermint-lab/peppermint/internal/repository"
	"github.com/peppermint-lab/peppermint/internal/services/mailpoll"
)

// app holds the wired ingestion pipeline and the connections it owns.
type app struct {
	db      *sqlx.DB
	redis   *redis.Client
	metrics *metrics.Mail
	queues  *repository.MailQueueRepository
	status  *cache.PollStatusStore
	poller  *mailpoll.Service
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	seenPolicy, err := connector.ParseSeenPolicy(cfg.Mail.SeenPolicy)
	if err != nil {
		return nil, err
	}
	replyMatch, err := filters.ParseReplyMatch(cfg.Mail.ReplyMatch)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, metrics: metrics.NewMail()}
	if cfg.Database.AutoMigrate {
		if _, err := database.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
	}

	queues := repository.NewMailQueueRepository(db)
	a.queues = queues
	tickets := repository.NewTicketRepository(db)
	comments := repository.NewCommentRepository(db)

	procOpts := []postmaster.TicketProcessorOption{postmaster.WithTicketProcessorLogger(log)}
	pollOpts := []mailpoll.Option{
		mailpoll.WithLogger(log),
		mailpoll.WithMetrics(a.metrics),
		mailpoll.WithQueueTimeout(cfg.Mail.QueueTimeout),
		mailpoll.WithOnlyActive(cfg.Mail.OnlyActive),
	}
	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
		procOpts = append(procOpts, postmaster.WithTicketProcessorDeduper(cache.NewMessageDeduper(rdb, cfg.Redis.Prefix, cfg.Redis.DedupTTL)))
		a.status = cache.NewPollStatusStore(rdb, cfg.Redis.Prefix)
		pollOpts = append(pollOpts, mailpoll.WithStatusRecorder(a.status))
	}

	tokens := oauth2.NewProvider(queues,
		oauth2.WithClientDefaults(oauth2.ClientDefaults{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			RedirectURL:  cfg.OAuth2.RedirectURL,
		}),
		oauth2.WithExpirySkew(cfg.OAuth2.ExpirySkew),
		oauth2.WithLogger(log),
	)
	pollOpts = append(pollOpts, mailpoll.WithTokenProvider(tokens))

	dialer := connector.NewDialer(
		connector.WithDialTimeout(cfg.Mail.IMAP.DialTimeout),
		connector.WithStrictTLS(cfg.Mail.IMAP.StrictTLS),
		connector.WithRetry(cfg.Mail.IMAP.ConnectRetries, cfg.Mail.IMAP.RetryDelay),
		connector.WithDialerLogger(log),
	)
	factory := connector.DefaultFactory(
		connector.WithIMAPDialer(dialer),
		connector.WithSeenPolicy(seenPolicy),
		connector.WithMaxMessageBytes(cfg.Mail.MaxMessageBytes),
		connector.WithIMAPLocation(cfg.Mail.Location()),
		connector.WithIMAPLogger(log),
	)

	handler := postmaster.NewService(
		postmaster.NewTicketProcessor(tickets, comments, procOpts...),
		postmaster.WithParser(parser.New(parser.WithBodyLimit(int64(cfg.Mail.BodyLimit)))),
		postmaster.WithFilterChain(postmaster.DefaultChain(replyMatch, log)),
		postmaster.WithServiceLogger(log),
		postmaster.WithServiceMetrics(a.metrics),
	)

	a.poller = mailpoll.NewService(queues, factory, handler, pollOpts...)
	log.Info("mail ingestion ready",
		zap.String("seen_policy", string(seenPolicy)),
		zap.String("reply_match", string(replyMatch)),
		zap.Bool("strict_tls", cfg.Mail.IMAP.StrictTLS),
		zap.Bool("redis", a.redis != nil),
	)
	return a, nil
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
