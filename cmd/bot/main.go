package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/chain"
	"github.com/suspectuso/tipbot/internal/commands"
	"github.com/suspectuso/tipbot/internal/config"
	"github.com/suspectuso/tipbot/internal/ledger"
	"github.com/suspectuso/tipbot/internal/notifier"
	"github.com/suspectuso/tipbot/internal/packet"
	"github.com/suspectuso/tipbot/internal/pending"
	"github.com/suspectuso/tipbot/internal/rates"
	"github.com/suspectuso/tipbot/internal/server"
	"github.com/suspectuso/tipbot/internal/storage"
	"github.com/suspectuso/tipbot/internal/sweeper"
	"github.com/suspectuso/tipbot/internal/telegram"
	"github.com/suspectuso/tipbot/internal/transfer"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	// Handle shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize storage
	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		log.Error("init storage", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "driver", cfg.DBDriver)

	// Connect to the chain
	rpc, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, cfg.GasPriceWei)
	if err != nil {
		log.Error("init chain client", "error", err)
		os.Exit(1)
	}
	defer rpc.Close()
	log.Info("chain client initialized", "rpc", cfg.RPCURL)

	tracker := pending.NewTracker()
	book, err := ledger.New(store, rpc, tracker, cfg.OperatorKey, cfg.RequestTimeout, log)
	if err != nil {
		log.Error("init ledger", "error", err)
		os.Exit(1)
	}
	log.Info("ledger initialized", "operator", book.OperatorAddress(), "tx_cost", book.TxCost())

	// Fiat rates
	rateClient := rates.NewClient(cfg.RatesBaseURL, cfg.RatesAPIKey, cfg.RatesCoinID, cfg.RatesCacheTTL)
	defer rateClient.Close()
	validator := amount.NewValidator(cfg.BaseSymbol, cfg.MaxTip, cfg.MaxPayout, rateClient)

	coordinator := transfer.NewCoordinator(book, log)
	packets := packet.NewEngine(book, coordinator, cfg.PacketTTL, cfg.PacketMaxShares, log)
	scheduler := sweeper.NewScheduler(book, cfg.SweepInterval, cfg.SuspendDefault, cfg.SuspendMax, log)

	// Initialize telegram bot
	directory := telegram.NewDirectory()
	bot, err := telegram.New(cfg.BotToken, cfg.Command, cfg.BotUsername, directory, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	notify := notifier.New(bot, cfg.LogChannelID, log)

	router := commands.NewRouter(commands.Deps{
		Ledger:    book,
		Transfers: coordinator,
		Packets:   packets,
		Amounts:   validator,
		Sweeper:   scheduler,
		Tickers:   rateClient,
		Members:   directory,
		Notifier:  notify,
	}, commands.Options{
		Command:     cfg.Command,
		Symbol:      strings.ToUpper(cfg.BaseSymbol),
		ExplorerURL: cfg.ExplorerURL,
		MaxShares:   cfg.PacketMaxShares,
		PacketTTL:   cfg.PacketTTL,
		Admins:      cfg.AdminIDs,
	}, log)
	bot.SetDispatcher(router)

	// Start health and metrics server
	httpServer := server.NewServer(map[string]server.HealthFunc{
		"store": store.Ping,
		"chain": func(ctx context.Context) error {
			_, err := rpc.BlockNumber(ctx)
			return err
		},
	}, log)
	go func() {
		if err := httpServer.Start(ctx, cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
		}
	}()

	// Start ticker refresh loop
	go rates.NewRefresher(rateClient, log).SyncLoop(ctx, cfg.RatesRefresh)

	// Start sweep loop
	go scheduler.Start(ctx)

	// Start bot polling
	log.Info("starting bot polling...", "command", cfg.Command, "admins", len(cfg.AdminIDs))
	bot.Start(ctx)
	log.Info("shutting down...")
}

// newLogger builds the process logger. The json format uses the
// timestamp/severity/message keys log collectors expect.
func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, "json") {
		opts.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		}
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", "tipbot")
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
