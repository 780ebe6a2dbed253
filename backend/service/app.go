// Package service is the settlement engine: contract bookkeeping on the
// ledger, derived amounts, and payment orchestration through bank rails.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/metrics"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/retry"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/privacy"
	"github.com/ethereum/go-ethereum/common"
)

// Deps are the collaborators of an AppContext.
type Deps struct {
	Config  *config.Config
	Ledger  ledger.Client
	Tokens  ledger.TokenLedger
	Store   cache.Store
	Privacy *privacy.Gateway
	Banks   *bank.Registry
	Objects ObjectStore
	Hazards HazardSink
	Metrics *metrics.Metrics
	Clock   retry.Clock
	Now     func() time.Time
}

// AppContext is the one engine instance of a process. Every operation hangs
// off it.
type AppContext struct {
	Config  *config.Config
	Ledger  ledger.Client
	Tokens  ledger.TokenLedger
	Cache   *cache.Layer
	Privacy *privacy.Gateway
	Banks   *bank.Registry
	Objects ObjectStore
	Hazards HazardSink
	Metrics *metrics.Metrics

	retry        retry.Policy
	signer       common.Address
	writeTimeout time.Duration
	locks        *obligationLocks
	marks        *obligationMarks
	now          func() time.Time
	closers      []io.Closer
}

// New wires an AppContext from explicit dependencies.
func New(d Deps) *AppContext {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Store == nil {
		d.Store = cache.NewMemoryStore()
	}
	if d.Hazards == nil {
		d.Hazards = discardSink{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	a := &AppContext{
		Config:  d.Config,
		Ledger:  ledger.Instrument(d.Ledger, d.Metrics),
		Tokens:  d.Tokens,
		Cache:   cache.New(d.Store, d.Metrics),
		Privacy: d.Privacy,
		Banks:   d.Banks,
		Objects: d.Objects,
		Hazards: d.Hazards,
		Metrics: d.Metrics,
		retry: retry.Policy{
			Attempts: d.Config.Validation.Attempts,
			Delay:    d.Config.ValidationDelay(),
			Clock:    d.Clock,
		},
		signer:       common.HexToAddress(d.Config.Ledger.WalletAddr),
		writeTimeout: time.Duration(d.Config.Ledger.PaymentWriteTimeout) * time.Second,
		locks:        newObligationLocks(),
		marks:        newObligationMarks(),
		now:          d.Now,
	}
	if a.Banks == nil {
		a.Banks = bank.NewRegistry()
	}
	return a
}

// NewAppContext builds the engine from configuration.
func NewAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	d := Deps{Config: cfg, Metrics: metrics.New()}
	var closers []io.Closer

	switch cfg.Ledger.Mode {
	case "gateway":
		gw := ledger.NewGateway(&cfg.Ledger)
		d.Ledger = gw
		d.Tokens = gw
	default:
		mem := ledger.NewMemory(0)
		d.Ledger = mem
		d.Tokens = mem
		slog.Warn("using in-memory ledger; state is lost on exit")
	}

	if cfg.Cache.Backend == "redis" {
		rs := cache.NewRedisStore(&cfg.Cache)
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.Store = rs
		closers = append(closers, rs)
	}

	registry := privacy.NewRegistry(privacy.StaticSource{Crypto: cfg.Crypto, Credentials: cfg.Credentials}, cfg.CredentialRefresh())
	d.Privacy = privacy.NewGateway(registry)

	d.Banks = bank.NewRegistry()
	d.Banks.Register(model.BankMercury, bank.NewMercury(&cfg.Banks.Mercury))
	d.Banks.Register(model.BankToken, bank.NewToken(d.Tokens, cfg, cfg.Banks.Token.Decimals))
	d.Banks.Register(model.BankManual, bank.NewManual())

	if cfg.Minio.Endpoint != "" {
		store, err := NewMinioStore(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			slog.Warn("failed to ensure artifact bucket", "error", err)
		}
		d.Objects = store
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink := NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.HazardTopic)
		d.Hazards = sink
		closers = append(closers, sink)
	}

	a := New(d)
	a.closers = closers
	return a, nil
}

func (a *AppContext) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func contractContext(ctx context.Context, kind model.Kind, idx int) context.Context {
	return context.WithValue(ctx, logger.ContractKey, fmt.Sprintf("%s:%d", kind, idx))
}

var entityKeys = map[ledger.Entity]func(model.Kind, int) cache.Key{
	ledger.EntityContract:    cache.ContractKey,
	ledger.EntityParty:       cache.PartyKey,
	ledger.EntityTransaction: cache.TransactionKey,
	ledger.EntitySettlement:  cache.SettlementKey,
}

// read returns the raw tuples of one per-contract list through the cache.
func (a *AppContext) read(ctx context.Context, entity ledger.Entity, kind model.Kind, idx int) ([]model.Tuple, error) {
	key := entityKeys[entity](kind, idx)
	return a.Cache.GetOrLoad(ctx, key, 0, func(ctx context.Context) ([]model.Tuple, error) {
		if entity == ledger.EntityContract {
			t, err := a.Ledger.ReadContract(ctx, kind, idx)
			if err != nil {
				return nil, err
			}
			return []model.Tuple{t}, nil
		}
		return a.Ledger.Read(ctx, entity, kind, idx)
	})
}

// records decodes the tuples of a list.
func (a *AppContext) records(ctx context.Context, entity ledger.Entity, kind model.Kind, idx int, l *model.Layout, dec model.Decryptor) ([]model.Record, error) {
	tuples, err := a.read(ctx, entity, kind, idx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(tuples))
	for _, t := range tuples {
		r, err := l.Decode(t, dec)
		if err != nil {
			return nil, newError(ClassInternal, err, "failed to decode %s", l.Name)
		}
		out = append(out, r)
	}
	return out, nil
}

// write submits a call and invalidates keys once the receipt is good. A
// failed write invalidates nothing.
func (a *AppContext) write(ctx context.Context, call ledger.Call, kind model.Kind, idx int, keys ...cache.Key) error {
	if _, err := a.Ledger.Write(ctx, call, a.signer, kind, idx); err != nil {
		return newError(ClassLedgerWrite, err, "ledger rejected %s", call.Method)
	}
	if err := a.Cache.Invalidate(ctx, keys...); err != nil {
		logger.Error(ctx, "cache invalidation failed after write", "method", call.Method, "error", err)
	}
	return nil
}

func (a *AppContext) internalDecryptor(ctx context.Context) (model.Decryptor, error) {
	dec, err := a.Privacy.Internal(ctx)
	if err != nil {
		return nil, newError(ClassConfiguration, err, "decryption key unavailable")
	}
	return dec, nil
}

// decryptorFor resolves what credential may read on a contract.
func (a *AppContext) decryptorFor(ctx context.Context, kind model.Kind, idx int, credential string) (model.Decryptor, error) {
	parties, err := a.records(ctx, ledger.EntityParty, kind, idx, model.PartyLayout, nil)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(parties))
	for _, p := range parties {
		codes = append(codes, p.Text("party_code"))
	}
	return a.Privacy.ResolveDecryptor(ctx, credential, codes), nil
}
