package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/pkg/imaging"
	"github.com/fitroom/fitroom-api/internal/pkg/inference"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/metrics"
	"github.com/fitroom/fitroom-api/internal/pkg/storage"
	"github.com/fitroom/fitroom-api/internal/pkg/validator"
)

// Ledger is the part of the credit ledger the gate needs.
type Ledger interface {
	Balance(ctx context.Context, shop string) (int, error)
	Debit(ctx context.Context, shop string, amount int, reference, description string) (credit.Result, error)
}

// LimitSource returns the per shopper daily limit of a shop; 0 disables it.
type LimitSource interface {
	DailyLimit(ctx context.Context, shop string) (int, error)
}

type Config struct {
	InferenceTimeout time.Duration
}

// Gate enforces balance, rate limit and debit-after-success around a try-on.
// No ledger lock is held while the provider runs.
type Gate struct {
	ledger    Ledger
	limits    LimitSource
	limiter   Limiter
	processor *imaging.Processor
	storage   storage.Storage
	provider  Provider
	cfg       Config
}

// NewGate wires the gate. store may be nil, in which case images are sent to
// the provider inline as data URIs.
func NewGate(ledger Ledger, limits LimitSource, limiter Limiter, processor *imaging.Processor, store storage.Storage, provider Provider, cfg Config) *Gate {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 90 * time.Second
	}
	return &Gate{
		ledger:    ledger,
		limits:    limits,
		limiter:   limiter,
		processor: processor,
		storage:   store,
		provider:  provider,
		cfg:       cfg,
	}
}

func (g *Gate) Run(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	l := logger.FromContext(ctx).With().Str("generation_id", id).Str("shop", req.ShopKey).Logger()
	l.Debug().Str("state", "received").Msg("generation")

	if err := validate(&req); err != nil {
		metrics.GenerationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	balance, err := g.ledger.Balance(ctx, req.ShopKey)
	if err != nil {
		return nil, err
	}
	l.Debug().Str("state", "balance_checked").Int("balance", balance).Msg("generation")
	if balance < 1 {
		metrics.GenerationsTotal.WithLabelValues("rejected_no_credit").Inc()
		return nil, credit.ErrInsufficientBalance
	}

	if err := g.checkRateLimit(ctx, &l, req); err != nil {
		return nil, err
	}

	// Inference and the debit are detached from the client; a disconnect
	// after a successful call still debits.
	detached := context.WithoutCancel(ctx)

	var uploaded []string
	defer func() { g.cleanup(detached, &l, uploaded) }()

	person, key, err := g.prepare(ctx, id, req.ShopKey, "person", req.Person)
	if err != nil {
		return nil, err
	}
	uploaded = append(uploaded, key)
	garment, key, err := g.prepare(ctx, id, req.ShopKey, "garment", req.Garment)
	if err != nil {
		return nil, err
	}
	uploaded = append(uploaded, key)

	callCtx, cancel := context.WithTimeout(detached, g.cfg.InferenceTimeout)
	defer cancel()

	l.Debug().Str("state", "inference_requested").Msg("generation")
	start := time.Now()
	resultURL, err := g.provider.Run(callCtx, inference.Request{
		PersonImage:  person,
		GarmentImage: garment,
		Category:     req.Category,
	})
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("inference_failed").Inc()
		l.Warn().Err(err).Str("state", "inference_failed").Dur("elapsed", time.Since(start)).Msg("generation")
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	l.Debug().Str("state", "inference_succeeded").Dur("elapsed", time.Since(start)).Msg("generation")

	res, err := g.ledger.Debit(detached, req.ShopKey, 1, "generation:"+id, "try-on "+resultURL)
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientBalance) {
			metrics.GenerationsTotal.WithLabelValues("credit_race").Inc()
			l.Error().Str("state", "credit_race").Msg("generation")
			return nil, ErrCreditRace
		}
		metrics.GenerationsTotal.WithLabelValues("debit_failed").Inc()
		return nil, err
	}
	l.Debug().Str("state", "debited").Int("balance", res.Balance).Msg("generation")

	metrics.GenerationsTotal.WithLabelValues("completed").Inc()
	l.Info().Str("state", "completed").Int("balance", res.Balance).Msg("generation")

	return &Result{
		GenerationID:   id,
		ResultImageURL: resultURL,
		NewCredits:     res.Balance,
	}, nil
}

// checkRateLimit fails open when the limiter itself errors.
func (g *Gate) checkRateLimit(ctx context.Context, l *zerolog.Logger, req Request) error {
	limit, err := g.limits.DailyLimit(ctx, req.ShopKey)
	if err != nil {
		return err
	}
	if limit <= 0 || g.limiter == nil {
		return nil
	}

	allowed, err := g.limiter.Allow(ctx, req.ShopKey+"|"+req.ClientIP, limit)
	if err != nil {
		l.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	if !allowed {
		metrics.GenerationsTotal.WithLabelValues("rate_limited").Inc()
		l.Debug().Str("state", "rate_limited").Int("limit", limit).Msg("generation")
		return ErrRateLimited
	}
	return nil
}

// prepare turns an input into something the provider can fetch: the garment
// URL as is, or the normalized upload as a storage URL or data URI. key is
// set when an object was written to storage.
func (g *Gate) prepare(ctx context.Context, id, shop, role string, img Image) (ref, key string, err error) {
	if len(img.Data) == 0 {
		return img.URL, "", nil
	}

	norm, err := g.processor.Normalize(bytes.NewReader(img.Data))
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrInvalidImage, role, err)
	}

	if g.storage == nil {
		return norm.DataURI(), "", nil
	}

	key = fmt.Sprintf("tryon/%s/%s/%s.jpg", shop, id, role)
	if err := g.storage.Put(ctx, key, bytes.NewReader(norm.Data), norm.ContentType); err != nil {
		return "", "", fmt.Errorf("store %s image: %w", role, err)
	}
	return g.storage.GetURL(key), key, nil
}

// cleanup removes shopper photos once the provider is done with them.
func (g *Gate) cleanup(ctx context.Context, l *zerolog.Logger, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := g.storage.Delete(ctx, key); err != nil {
			l.Warn().Err(err).Str("key", key).Msg("failed to delete try-on input")
		}
	}
}

func validate(req *Request) error {
	if len(req.Person.Data) == 0 {
		return ErrMissingPerson
	}
	if req.Garment.empty() {
		return ErrMissingGarment
	}
	if len(req.Garment.Data) == 0 {
		if err := validator.ValidateVar(req.Garment.URL, "http_url"); err != nil {
			return fmt.Errorf("%w: garment url", ErrInvalidImage)
		}
	}

	if req.Category == "" {
		req.Category = CategoryUpperBody
	}
	if err := validator.ValidateVar(req.Category, "category"); err != nil {
		return ErrInvalidCategory
	}
	return nil
}
