// Command engine is the trading pipeline's process entrypoint: it loads
// configuration, constructs every pipeline component named in SPEC_FULL.md
// §4, wires their channels per §5's capacity table, and runs until an
// interrupt or terminate signal arrives.
//
// Grounded on the teacher's cmd/server/main.go wiring order and
// setupLogger pattern, but with internally-consistent constructors — the
// teacher's main.go called execution.NewExecutor with a signature that
// didn't match executor.go's real constructor and built a RiskConfig
// literal referencing fields that don't exist on the struct, neither of
// which is reproduced here.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-engine/internal/analyst"
	"github.com/atlas-desktop/trading-engine/internal/api"
	"github.com/atlas-desktop/trading-engine/internal/broker"
	"github.com/atlas-desktop/trading-engine/internal/broker/alpaca"
	"github.com/atlas-desktop/trading-engine/internal/config"
	"github.com/atlas-desktop/trading-engine/internal/connhealth"
	"github.com/atlas-desktop/trading-engine/internal/costs"
	"github.com/atlas-desktop/trading-engine/internal/features"
	"github.com/atlas-desktop/trading-engine/internal/gateway"
	"github.com/atlas-desktop/trading-engine/internal/liquidation"
	"github.com/atlas-desktop/trading-engine/internal/ordermonitor"
	"github.com/atlas-desktop/trading-engine/internal/portfolio"
	"github.com/atlas-desktop/trading-engine/internal/reconciler"
	"github.com/atlas-desktop/trading-engine/internal/regime"
	"github.com/atlas-desktop/trading-engine/internal/riskpipeline"
	"github.com/atlas-desktop/trading-engine/internal/riskstate"
	"github.com/atlas-desktop/trading-engine/internal/sentinel"
	"github.com/atlas-desktop/trading-engine/internal/sizing"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/internal/throttler"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	addr := flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	symbolsFlag := flag.String("symbols", "AAPL,MSFT,GOOGL", "comma-separated symbol watchlist")
	startingCash := flag.Float64("starting-cash", 100000, "starting cash for the portfolio")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	symbols := splitSymbols(*symbolsFlag)
	logger.Info("starting trading engine", zap.Strings("symbols", symbols))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := build(cfg, symbols, decimal.NewFromFloat(*startingCash), logger)
	defer e.riskState.Stop()
	defer e.reconciler.Stop()

	go e.gateway.Run(ctx)
	go e.sentinel.Run(ctx)
	go e.throttler.Run(ctx)
	go e.dispatchCandles(ctx)
	go e.runRiskPipeline(ctx)
	go e.submitApprovedOrders(ctx)
	go e.consumeOrderUpdates(ctx)
	go e.sweepStaleOrders(ctx)

	if err := e.riskState.StartDailyReset(e.currentEquity); err != nil {
		logger.Warn("failed to start daily risk reset schedule", zap.Error(err))
	}
	if err := e.reconciler.StartPeriodicReconcile(e.positionSnapshot); err != nil {
		logger.Warn("failed to start periodic reconciliation", zap.Error(err))
	}

	go e.hub.Run()
	httpServer := &http.Server{Addr: *addr, Handler: e.apiServer.Router()}
	go func() {
		logger.Info("api server listening", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
}

func splitSymbols(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// engine bundles every constructed component and the goroutines that wire
// them into the MarketGateway → Sentinel → Analyst → RiskPipeline →
// OrderThrottler → Broker pipeline, plus the reverse OrderUpdate →
// Reconciler/RiskState/Hub path (§5).
type engine struct {
	logger *zap.Logger
	cfg    *config.Config

	broker    broker.Broker
	health    *connhealth.Service
	gateway   *gateway.Gateway
	sentinel  *sentinel.Sentinel
	portfolio *portfolio.Manager
	riskState *riskstate.Store
	costs     *costs.Estimator

	analysts     map[string]*analyst.Context
	analystChans map[string]chan types.Candle
	riskIn       chan types.TradeProposal

	riskPipeline *riskpipeline.Pipeline
	throttler    *throttler.Throttler
	orderMonitor *ordermonitor.Monitor
	reconciler   *reconciler.Reconciler
	liquidation  *liquidation.Service

	hub       *api.Hub
	apiServer *api.Server

	mu              sync.Mutex
	haltedForReview bool
}

func build(cfg *config.Config, symbols []string, startingCash decimal.Decimal, logger *zap.Logger) *engine {
	brokerClient := alpaca.New(alpaca.Config{
		APIKey:            cfg.Market.APIKey,
		APISecret:         cfg.Market.APISecret,
		DataURL:           cfg.Market.DataURL,
		TradingURL:        cfg.Market.DataURL,
		WSURL:             cfg.Market.WSURL,
		HeartbeatInterval: cfg.Engine.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Engine.HeartbeatTimeout,
	}, logger)

	health := connhealth.New()
	gw := gateway.New(gateway.Config{
		BroadcastCapacity: cfg.Engine.GatewayBroadcastCapacity,
		ReconnectBase:     cfg.Engine.ReconnectBaseBackoff,
		ReconnectMax:      cfg.Engine.ReconnectMaxBackoff,
	}, brokerClient, health, logger)

	sen := sentinel.New(sentinel.Config{
		Tick:           cfg.Engine.SentinelTick,
		StaleThreshold: cfg.Engine.SentinelStaleThreshold,
		HealThreshold:  cfg.Engine.SentinelHealThreshold,
	}, gw, sentinel.CandleValidator{}, health, cfg.Engine.SentinelToAnalystCap, logger)

	pm := portfolio.New(startingCash)

	riskStatePath := filepath.Join(cfg.DataDir, "risk_state.msgpack")
	rs := riskstate.New(riskStatePath, logger)
	if err := rs.Load(startingCash); err != nil {
		logger.Warn("failed to load persisted risk state", zap.Error(err))
	}

	costsEstimator := costs.NewEstimator(costs.Config{
		CommissionPerShare: decimal.NewFromFloat(cfg.Costs.CommissionPerShare),
		SlippagePct:        decimal.NewFromFloat(cfg.Costs.SlippagePct),
		SpreadBps:          decimal.NewFromFloat(cfg.Costs.SpreadBps),
	})

	registry := buildStrategyRegistry(cfg)
	defaultStrategy, ok := registry.Get(cfg.Strategy.Mode)
	if !ok {
		defaultStrategy, _ = registry.Get("dual_sma")
	}

	analysts := make(map[string]*analyst.Context, len(symbols))
	analystChans := make(map[string]chan types.Candle, len(symbols))
	for _, symbol := range symbols {
		featureEngine := features.New(symbol, features.Config{
			FastSMAPeriod:  cfg.Strategy.FastSMAPeriod,
			SlowSMAPeriod:  cfg.Strategy.SlowSMAPeriod,
			TrendSMAPeriod: cfg.Strategy.TrendSMAPeriod,
			RSIPeriod:      cfg.Strategy.RSIPeriod,
			MACDFast:       cfg.Strategy.MACDFast,
			MACDSlow:       cfg.Strategy.MACDSlow,
			MACDSignal:     cfg.Strategy.MACDSignal,
			ATRPeriod:      cfg.Strategy.ATRPeriod,
			ADXPeriod:      cfg.Strategy.ADXPeriod,
			BBPeriod:       cfg.Strategy.BBPeriod,
			BBStdDev:       cfg.Strategy.BBStdDev,
			ZScorePeriod:   cfg.Strategy.ZScorePeriod,
			MaxBuffer:      cfg.Strategy.TrendSMAPeriod + 50,
		}, logger)

		analystCtx := analyst.NewContext(symbol, featureEngine, defaultStrategy, analyst.Config{
			ATRStopMultiplier:   decimal.NewFromFloat(cfg.Sizing.ATRStopMultiplier),
			ATRProfitMultiplier: decimal.NewFromFloat(cfg.Sizing.ATRProfitMultiplier),
			MaxPositionSizePct:  decimal.NewFromFloat(cfg.Risk.MaxPositionSizePct),
			QuantityStep:        decimal.NewFromFloat(cfg.Sizing.QuantityStep),
			Cooldown:            cfg.Sizing.CooldownDuration,
			MinHoldTime:         cfg.Sizing.MinHoldDuration,
			Sizer:               analyst.DefaultSizer{RiskPerTradePct: decimal.NewFromFloat(cfg.Risk.RiskPerTradePct)},
			Costs:               costsEstimator,
		}, logger)

		if cfg.Sizing.UseRegimeSelection {
			detector := regime.NewRegimeDetector(logger.Named("regime").With(zap.String("symbol", symbol)), regime.DefaultRegimeConfig())
			analystCtx.Regime = detector
			analystCtx.Selector = analyst.NewRegimeSelector(detector, registry, defaultStrategy, map[regime.RegimeType]string{
				regime.RegimeTrending:      "trend_riding",
				regime.RegimeBull:          "dual_sma",
				regime.RegimeBear:          "dual_sma",
				regime.RegimeMeanReverting: "zscore_mean_reversion",
			})
		}
		if cfg.Sizing.KellyFraction > 0 {
			sizingCfg := sizing.DefaultSizingConfig()
			sizingCfg.KellyFraction = cfg.Sizing.KellyFraction
			positionSizer := sizing.NewPositionSizer(logger.Named("sizing").With(zap.String("symbol", symbol)), sizingCfg)
			analystCtx.Kelly = analyst.NewKellyCrossCheck(positionSizer)
		}

		analysts[symbol] = analystCtx
		analystChans[symbol] = make(chan types.Candle, cfg.Engine.SentinelToAnalystCap)
	}

	pipeline := riskpipeline.New()
	pipeline.Add(riskpipeline.CircuitBreaker{
		MaxDailyLossPct:      decimal.NewFromFloat(cfg.Risk.MaxDailyLossPct),
		MaxDrawdownPct:       decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
		ConsecutiveLossLimit: cfg.Risk.ConsecutiveLossLimit,
		EnabledFlag:          true,
	})
	pipeline.Add(riskpipeline.BuyingPower{EnabledFlag: true})
	pipeline.Add(riskpipeline.PriceAnomaly{Window: 20, MaxDeviationPct: decimal.NewFromFloat(cfg.Risk.PriceAnomalyMaxDevPct), EnabledFlag: true})
	pipeline.Add(riskpipeline.PositionSize{MaxPositionSizePct: decimal.NewFromFloat(cfg.Risk.MaxPositionSizePct), EnabledFlag: true})
	pipeline.Add(riskpipeline.PDT{
		EquityThreshold: decimal.NewFromFloat(cfg.Risk.PDTEquityThreshold),
		DayTradeLimit:   cfg.Risk.PDTDayTradeLimit,
		EnabledFlag:     true,
	})
	pipeline.Add(riskpipeline.SectorExposure{MaxSectorExposurePct: decimal.NewFromFloat(cfg.Risk.MaxSectorExposurePct), EnabledFlag: true})
	pipeline.Add(riskpipeline.Correlation{MaxCorrelation: decimal.NewFromFloat(cfg.Risk.MaxCorrelation), EnabledFlag: true})
	pipeline.Add(riskpipeline.Sentiment{BlockOnExtremeFear: true, EnabledFlag: true})

	th := throttler.New(throttler.Config{
		MaxOrdersPerWindow: cfg.Engine.ThrottlerMaxPerWindow,
		WindowDuration:     cfg.Engine.ThrottlerWindow,
		DrainTick:          cfg.Engine.ThrottlerDrainTick,
	}, cfg.Engine.RiskToThrottlerCap, cfg.Engine.ThrottlerToBrokerCap, logger)

	monitor := ordermonitor.New(ordermonitor.Config{LimitTimeout: cfg.Engine.OrderLimitTimeout, RetryEnabled: true}, logger)
	recon := reconciler.New(reconciler.Config{TTL: cfg.Engine.ReconcilerTTL, Tick: cfg.Engine.ReconcilerTick}, pm, rs, logger)
	liq := liquidation.New(brokerClient, logger)

	hub := api.NewHub(logger)
	apiServer := api.NewServer(hub, health, logger)

	return &engine{
		logger:       logger,
		cfg:          cfg,
		broker:       brokerClient,
		health:       health,
		gateway:      gw,
		sentinel:     sen,
		portfolio:    pm,
		riskState:    rs,
		costs:        costsEstimator,
		analysts:     analysts,
		analystChans: analystChans,
		riskIn:       make(chan types.TradeProposal, cfg.Engine.AnalystToRiskCap),
		riskPipeline: pipeline,
		throttler:    th,
		orderMonitor: monitor,
		reconciler:   recon,
		liquidation:  liq,
		hub:          hub,
		apiServer:    apiServer,
	}
}

func buildStrategyRegistry(cfg *config.Config) *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.NewDualSMA(0.001))
	r.Register(strategy.NewTrendRiding(0.02))
	r.Register(strategy.NewMeanReversion(30, 70))
	r.Register(strategy.NewZScoreMeanReversion(2.0, 0.5))
	r.Register(strategy.NewBreakout(cfg.Strategy.BreakoutPeriod, 0.01, 1.5))
	r.Register(strategy.NewMomentumDivergence(cfg.Strategy.BreakoutPeriod, 30, 70))
	r.Register(strategy.NewStatisticalMomentum(cfg.Strategy.StatMomentumPeriod, 1.0))
	r.Register(strategy.NewVWAP(0.02, 30, 70))
	r.Register(strategy.NewSMC(10, 0.0015))
	r.Register(strategy.NewAdvancedTripleFilter(0.001, cfg.Strategy.ADXThreshold, 70, 30, cfg.Strategy.SignalConfirmBars))
	r.Register(strategy.NewML(strategy.NeutralPredictor{}, cfg.Strategy.MLThreshold))
	return r
}

func (e *engine) currentEquity() decimal.Decimal {
	return e.portfolio.Snapshot(e.latestPrices()).Equity
}

func (e *engine) latestPrices() map[string]decimal.Decimal {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	symbols := make([]string, 0, len(e.analysts))
	for s := range e.analysts {
		symbols = append(symbols, s)
	}
	prices, err := e.broker.GetPrices(ctx, symbols)
	if err != nil {
		e.logger.Warn("failed to fetch latest prices", zap.Error(err))
		return map[string]decimal.Decimal{}
	}
	return prices
}

func (e *engine) positionSnapshot() map[string]types.Position {
	return e.portfolio.Snapshot(e.latestPrices()).Portfolio.Positions
}

func (e *engine) halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltedForReview
}

func (e *engine) setHalted(v bool) {
	e.mu.Lock()
	e.haltedForReview = v
	e.mu.Unlock()
}

// dispatchCandles routes validated market events from the Sentinel to each
// symbol's analyst goroutine (§5).
func (e *engine) dispatchCandles(ctx context.Context) {
	var wg sync.WaitGroup
	for symbol, ch := range e.analystChans {
		wg.Add(1)
		go e.runAnalyst(ctx, symbol, ch, &wg)
	}

	for {
		select {
		case <-ctx.Done():
			for _, ch := range e.analystChans {
				close(ch)
			}
			wg.Wait()
			return
		case ev, ok := <-e.sentinel.Out:
			if !ok {
				return
			}
			if ev.Kind != types.MarketEventCandle {
				continue
			}
			ch, ok := e.analystChans[ev.Symbol]
			if !ok {
				continue
			}
			select {
			case ch <- ev.Candle:
			default:
				e.logger.Warn("analyst channel full, dropping candle", zap.String("symbol", ev.Symbol))
			}
		}
	}
}

func (e *engine) runAnalyst(ctx context.Context, symbol string, candles <-chan types.Candle, wg *sync.WaitGroup) {
	defer wg.Done()
	ctxAnalyst := e.analysts[symbol]

	for candle := range candles {
		if e.halted() {
			continue
		}
		prices := map[string]decimal.Decimal{symbol: candle.Close}
		snap := e.portfolio.Snapshot(prices)
		pos, hasPos := snap.Portfolio.Positions[symbol]

		info := analyst.PositionInfo{HasPosition: hasPos, Quantity: pos.Quantity, AvgPrice: pos.AveragePrice}
		proposal := ctxAnalyst.OnCandle(ctx, candle, !e.broker.Connected(), info, snap.Equity, snap.AvailableCash)
		if proposal == nil {
			continue
		}

		select {
		case e.riskIn <- *proposal:
		case <-ctx.Done():
			return
		}
	}
}

// runRiskPipeline evaluates each analyst-produced proposal against the
// RiskPipeline (§4.6), forwarding survivors to the OrderThrottler and
// triggering an emergency liquidation sweep on a CircuitBreaker trip (§4.10:
// "Triggered by the CircuitBreaker... Trading is halted until manual
// review").
func (e *engine) runRiskPipeline(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case proposal, ok := <-e.riskIn:
			if !ok {
				return
			}
			if e.halted() {
				e.logger.Warn("proposal dropped: halted pending manual review", zap.String("symbol", proposal.Symbol))
				continue
			}

			prices := e.latestPrices()
			snap := e.portfolio.Snapshot(prices)
			valCtx := riskpipeline.ValidationContext{
				Proposal:      proposal,
				Portfolio:     snap.Portfolio,
				AvailableCash: snap.AvailableCash,
				Prices:        prices,
				RiskState:     e.riskState.Snapshot(),
			}
			if a, ok := e.analysts[proposal.Symbol]; ok {
				valCtx.RecentCandles = a.Features.CandleBuffer()
			}

			decision := e.riskPipeline.Evaluate(valCtx)
			if !decision.Approved {
				e.logger.Info("proposal rejected", zap.String("symbol", proposal.Symbol), zap.String("reason", decision.Reason))
				e.hub.BroadcastRiskAlert(api.RiskAlert{Symbol: proposal.Symbol, Reason: decision.Reason})
				if isCircuitBreakerTrip(decision.Reason) {
					e.triggerLiquidation(ctx, decision.Reason)
				}
				continue
			}

			select {
			case e.throttler.In <- proposal:
			case <-ctx.Done():
				return
			}
		}
	}
}

func isCircuitBreakerTrip(reason string) bool {
	switch reason {
	case "daily loss limit breached", "max drawdown breached", "consecutive loss limit reached":
		return true
	default:
		return false
	}
}

// triggerLiquidation sweeps every open position into a closing order and
// halts further proposal evaluation until an operator clears it (§4.10).
func (e *engine) triggerLiquidation(ctx context.Context, reason string) {
	if e.halted() {
		return
	}
	e.setHalted(true)
	e.logger.Error("circuit breaker tripped, liquidating all positions", zap.String("reason", reason))

	prices := e.latestPrices()
	positions := e.portfolio.Snapshot(prices).Portfolio.Positions
	closed := e.liquidation.Sweep(ctx, positions, prices)
	e.logger.Warn("liquidation sweep complete, halted pending manual review", zap.Int("positions_closed", closed))
}

// submitApprovedOrders drains the OrderThrottler's output, reserving cash
// and submitting each proposal to the Broker (§4.7 step 4, §4.1 reservation
// discipline).
func (e *engine) submitApprovedOrders(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case proposal, ok := <-e.throttler.Out:
			if !ok {
				return
			}

			notional := proposal.Quantity.Mul(proposal.Price)
			token, err := e.portfolio.Reserve(proposal.Symbol, proposal.Side, notional)
			if err != nil {
				e.logger.Warn("reservation failed, dropping proposal", zap.String("symbol", proposal.Symbol), zap.Error(err))
				continue
			}

			clientOrderID := uuid.NewString()
			order := types.Order{TradeProposal: proposal, ClientOrderID: clientOrderID}

			e.reconciler.Track(clientOrderID, types.PendingOrder{
				ClientOrderID: clientOrderID,
				Symbol:        proposal.Symbol,
				Side:          proposal.Side,
				RequestedQty:  proposal.Quantity,
				EntryPrice:    proposal.Price,
			}, token)
			if a, ok := e.analysts[proposal.Symbol]; ok {
				a.SetPendingOrder(true)
			}
			e.orderMonitor.Track(order)

			if _, err := e.broker.SubmitOrder(ctx, order); err != nil {
				e.logger.Error("order submission failed", zap.String("symbol", proposal.Symbol), zap.Error(err))
				_ = e.portfolio.ReleaseReservation(token)
				e.orderMonitor.Untrack(clientOrderID)
				if a, ok := e.analysts[proposal.Symbol]; ok {
					a.SetPendingOrder(false)
				}
				continue
			}
		}
	}
}

// consumeOrderUpdates applies broker fill/status events to the Reconciler,
// OrderMonitor, Portfolio, RiskState and Hub (§4.9 reverse path).
func (e *engine) consumeOrderUpdates(ctx context.Context) {
	updates, err := e.broker.OrderUpdates(ctx)
	if err != nil {
		e.logger.Error("failed to open order update stream", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			e.reconciler.HandleUpdate(update)
			e.hub.BroadcastOrderUpdate(update)
			e.applyUpdate(update)
		}
	}
}

func (e *engine) applyUpdate(update types.OrderUpdate) {
	switch update.Status {
	case types.OrderStatusFilled, types.OrderStatusPartiallyFilled:
		if !update.HasFillPrice {
			return
		}
		fees := e.costs.Estimate(update.FilledQty, update.FilledAvgPrice)
		trade, err := e.portfolio.ApplyFill(update.Symbol, update.Side, update.FilledQty, update.FilledAvgPrice, fees)
		if err != nil {
			e.logger.Error("failed to apply fill", zap.String("symbol", update.Symbol), zap.Error(err))
			return
		}
		e.hub.BroadcastTradeUpdate(trade)

		a, ok := e.analysts[update.Symbol]
		if !ok {
			return
		}
		if update.Status != types.OrderStatusFilled {
			return
		}
		if update.Side == types.Buy {
			a.OnFill(trade.Price, decimal.Zero)
		} else if pos, held := e.portfolio.Snapshot(nil).Portfolio.Positions[update.Symbol]; !held || pos.Quantity.IsZero() {
			a.OnPositionClosed(trade.Price)
		}
		a.SetPendingOrder(false)
		e.portfolio.IncrementDayTrades()

		equity := e.currentEquity()
		e.riskState.ObserveEquity(equity, time.Now())
		e.hub.BroadcastPnLUpdate(api.PnLUpdate{Equity: equity.String()})

	case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusExpired:
		e.orderMonitor.Untrack(update.ClientOrderID)
		if a, ok := e.analysts[update.Symbol]; ok {
			a.SetPendingOrder(false)
		}
	}
}

// sweepStaleOrders periodically asks the OrderMonitor for timed-out limit
// orders and resubmits them as market orders (§4.8).
func (e *engine) sweepStaleOrders(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, action := range e.orderMonitor.Sweep(now) {
				if err := e.broker.CancelOrder(ctx, action.ClientOrderID); err != nil {
					e.logger.Warn("cancel failed during retry sweep", zap.String("client_order_id", action.ClientOrderID), zap.Error(err))
				}
				replacementID := uuid.NewString()
				replacement := action.Replacement
				replacement.ClientOrderID = replacementID
				if _, err := e.broker.SubmitOrder(ctx, replacement); err != nil {
					e.logger.Error("replacement order failed", zap.String("symbol", replacement.Symbol), zap.Error(err))
				}
			}
		}
	}
}
