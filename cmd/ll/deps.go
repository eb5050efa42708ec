package main

import (
	"fmt"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/config"
	"github.com/camdenward/leadline/internal/control"
	"github.com/camdenward/leadline/internal/db"
	"github.com/camdenward/leadline/internal/dispatch"
	"github.com/camdenward/leadline/internal/notify"
	"github.com/camdenward/leadline/internal/reply"
	"github.com/camdenward/leadline/internal/router"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// deps bundles the wired components a command needs.
type deps struct {
	cfg        *config.Config
	db         *gorm.DB
	seq        *sequencer.Sequencer
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	controller *control.Controller
	pool       *reply.Pool
	notifier   *notify.Fanout
}

// loadConfig reads the --config flag and loads the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// buildDeps connects the database and constructs all components from
// config. Every dependency is explicit; there is no global state.
func buildDeps(cmd *cobra.Command) (*deps, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	conn, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}

	seq, err := sequencer.New(sequencer.Opts{DB: conn, Clock: clk})
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}

	gen, err := buildGenerator(cfg.Reply)
	if err != nil {
		return nil, err
	}
	pool, err := reply.NewPool(reply.PoolOpts{
		DB:        conn,
		Clock:     clk,
		Generator: gen,
		Workers:   cfg.Reply.Workers,
		QueueSize: cfg.Reply.QueueSize,
	})
	if err != nil {
		return nil, err
	}

	rt, err := router.New(router.Opts{
		DB:        conn,
		Clock:     clk,
		Sequencer: seq,
		Responder: pool,
		Notifier:  notifier,
	})
	if err != nil {
		return nil, err
	}

	disp, err := dispatch.New(dispatch.Opts{
		DB:        conn,
		Clock:     clk,
		Sequencer: seq,
		Responder: pool,
	})
	if err != nil {
		return nil, err
	}

	ctrl, err := control.New(control.Opts{
		DB:        conn,
		Clock:     clk,
		Sequencer: seq,
		Notifier:  notifier,
	})
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:        cfg,
		db:         conn,
		seq:        seq,
		router:     rt,
		dispatcher: disp,
		controller: ctrl,
		pool:       pool,
		notifier:   notifier,
	}, nil
}

// buildNotifier assembles the configured alert channels. Unconfigured
// channels are simply absent from the fan-out.
func buildNotifier(cfg config.NotifyConfig) (*notify.Fanout, error) {
	var senders []notify.Sender
	if cfg.SlackToken != "" {
		s, err := notify.NewSlackSender(cfg.SlackToken, cfg.SlackChannel)
		if err != nil {
			return nil, fmt.Errorf("notify setup: %w", err)
		}
		senders = append(senders, s)
	}
	if cfg.DiscordToken != "" {
		d, err := notify.NewDiscordSender(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			return nil, fmt.Errorf("notify setup: %w", err)
		}
		senders = append(senders, d)
	}
	return notify.NewFanout(senders...), nil
}

// buildGenerator picks the reply backend from config.
func buildGenerator(cfg config.ReplyConfig) (reply.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return reply.NewOpenAIGenerator(cfg.APIKey, cfg.Model)
	default:
		return &reply.Mock{Reply: reply.FallbackReply}, nil
	}
}
