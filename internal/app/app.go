package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabbitmq/amqp091-go"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/access"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/account"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/authz"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/config"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/contract"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/contracts"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/httpapi"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/messaging"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/payment"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/purchase"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/record"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/storage"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/websocket"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	saga      *purchase.Service
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumers []*messaging.Consumer
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	policy := access.Policy{Self: cfg.ContractID}

	contractStore := contract.NewStore(store.Pool(), policy)
	if err := bootstrapState(ctx, cfg, contractStore, logger); err != nil {
		store.Close()
		return nil, err
	}

	accounts := account.NewService(store.Pool())
	if err := bootstrapAccounts(ctx, cfg, accounts); err != nil {
		store.Close()
		return nil, err
	}

	wsHub := websocket.NewHub()

	saga := purchase.NewService(
		purchase.NewRepo(store.Pool()),
		record.NewStore(store.Pool()),
		payment.NewDispatcher(store.Pool(), logger),
		authz.NewClient(cfg.WhitelistURL, cfg.CallBudget),
		contractStore,
		policy,
		wsHub,
		logger,
	)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.SagaExchange)
	if err != nil {
		store.Close()
		return nil, err
	}

	bindings := []struct {
		queue      string
		routingKey string
	}{
		{cfg.AuthorizeQueue, contracts.EventAuthorizeRequested},
		{cfg.AuthzResultQueue, contracts.EventAuthzResult},
		{cfg.TransferQueue, contracts.EventTransferRequested},
		{cfg.TransferResultQueue, contracts.EventTransferResult},
	}
	consumers := make([]*messaging.Consumer, 0, len(bindings))
	for _, b := range bindings {
		c, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.SagaExchange, b.queue, b.routingKey, logger)
		if err != nil {
			for _, open := range consumers {
				open.Close()
			}
			publisher.Close()
			store.Close()
			return nil, err
		}
		consumers = append(consumers, c)
	}

	api := httpapi.NewServer(saga, accounts, logger)
	wsHandler := websocket.NewHandler(wsHub, saga)
	api.HandleFunc("GET /purchases/{purchaseID}/ws", wsHandler.ServeWS)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, "purchase_outbox", cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		saga:      saga,
		wsHub:     wsHub,
		publisher: publisher,
		outbox:    outbox,
		consumers: consumers,
		httpSrv:   httpSrv,
	}, nil
}

// bootstrapState initializes the contract exactly once, from the
// deployment's own config, acting as itself. A concurrent replica
// losing the race is not an error.
func bootstrapState(ctx context.Context, cfg config.Config, store *contract.Store, logger *slog.Logger) error {
	_, err := store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, contract.ErrNotInitialized) {
		return err
	}

	err = store.Initialize(ctx, cfg.ContractID, cfg.OrganizerID, cfg.Price)
	if err != nil && !errors.Is(err, contract.ErrAlreadyInitialized) {
		return fmt.Errorf("initialize contract: %w", err)
	}
	if err == nil {
		logger.Info("contract initialized", "organizer_id", cfg.OrganizerID, "price", cfg.Price)
	}
	return nil
}

// bootstrapAccounts makes sure the contract's own account and the
// organizer's account exist so transfers have both endpoints.
func bootstrapAccounts(ctx context.Context, cfg config.Config, accounts *account.Service) error {
	for _, id := range []string{cfg.ContractID, cfg.OrganizerID} {
		if err := accounts.Create(ctx, id); err != nil && !errors.Is(err, account.ErrAccountExists) {
			return fmt.Errorf("bootstrap account %s: %w", id, err)
		}
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.consumers)+1)

	a.outbox.Start(ctx)

	go a.wsHub.Run(ctx)

	handlers := []func(context.Context, amqp091.Delivery){
		a.handleAuthorize,
		a.handleAuthzResult,
		a.handleTransfer,
		a.handleTransferResult,
	}
	for i, c := range a.consumers {
		handler := handlers[i]
		consumer := c
		go func() {
			errCh <- consumer.Start(ctx, handler)
		}()
	}

	go func() {
		a.logger.Info("groupbuy http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	for _, c := range a.consumers {
		c.Close()
	}
	a.publisher.Close()
	a.store.Close()
}

func (a *App) handleAuthorize(ctx context.Context, msg amqp091.Delivery) {
	var evt contracts.AuthorizeRequested
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		a.logger.Error("invalid authorize event", "err", err)
		_ = msg.Nack(false, false)
		return
	}

	if err := a.saga.RunAuthorization(ctx, a.cfg.ContractID, evt); err != nil {
		a.logger.Error("run authorization", "purchase_id", evt.PurchaseID, "err", err)
		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

func (a *App) handleAuthzResult(ctx context.Context, msg amqp091.Delivery) {
	var evt contracts.AuthzResult
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		a.logger.Error("invalid authz result event", "err", err)
		_ = msg.Nack(false, false)
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.CallbackBudget)
	defer cancel()

	if _, err := a.saga.WhitelistCallback(stepCtx, a.cfg.ContractID, evt); err != nil {
		a.nackStep(msg, err, "whitelist callback", evt.PurchaseID)
		return
	}

	_ = msg.Ack(false)
}

func (a *App) handleTransfer(ctx context.Context, msg amqp091.Delivery) {
	var evt contracts.TransferRequested
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		a.logger.Error("invalid transfer event", "err", err)
		_ = msg.Nack(false, false)
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.CallbackBudget)
	defer cancel()

	if err := a.saga.ExecuteTransfer(stepCtx, a.cfg.ContractID, evt); err != nil {
		a.nackStep(msg, err, "execute transfer", evt.PurchaseID)
		return
	}

	_ = msg.Ack(false)
}

func (a *App) handleTransferResult(ctx context.Context, msg amqp091.Delivery) {
	var evt contracts.TransferResult
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		a.logger.Error("invalid transfer result event", "err", err)
		_ = msg.Nack(false, false)
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.CallbackBudget)
	defer cancel()

	if _, err := a.saga.AddInfo(stepCtx, a.cfg.ContractID, evt); err != nil {
		a.nackStep(msg, err, "add info", evt.PurchaseID)
		return
	}

	_ = msg.Ack(false)
}

// nackStep drops result-count violations permanently: a wrong slot
// count is an integration bug and retrying cannot fix it. Anything else
// is requeued.
func (a *App) nackStep(msg amqp091.Delivery, err error, step, purchaseID string) {
	if errors.Is(err, purchase.ErrResultCount) {
		a.logger.Error("fatal result count mismatch", "step", step, "purchase_id", purchaseID, "err", err)
		_ = msg.Nack(false, false)
		return
	}
	a.logger.Error(step+" failed", "purchase_id", purchaseID, "err", err)
	_ = msg.Nack(false, true)
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
