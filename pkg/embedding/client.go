package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/metrics"
	"aero-doc-go/pkg/retry"

	"golang.org/x/time/rate"
)

// Options 控制 Client 的分批、节流与重试行为。
type Options struct {
	BatchSize   int
	Attempts    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	PacingMin   time.Duration
	PacingMax   time.Duration
	CallTimeout time.Duration
	// RequestsPerSecond 为 0 时不限速。
	RequestsPerSecond float64
	// Dimensions 为 0 时以第一次返回的向量维度为准。
	Dimensions     int
	QueryPrefix    string
	DocumentPrefix string
}

// Client 在 Backend 之上实现 Provider。
type Client struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	dims    atomic.Int64
	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Provider = (*Client)(nil)

// NewClient 创建 Client，opts 非法时返回错误。
func NewClient(backend Backend, opts Options) (*Client, error) {
	if backend == nil {
		return nil, errors.New("embedding: nil backend")
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("embedding: batch size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.Attempts < 1 {
		return nil, fmt.Errorf("embedding: attempts must be >= 1, got %d", opts.Attempts)
	}
	if opts.PacingMin <= 0 || opts.PacingMax < opts.PacingMin {
		return nil, fmt.Errorf("embedding: pacing window must satisfy 0 < min <= max, got [%s, %s]", opts.PacingMin, opts.PacingMax)
	}

	c := &Client{backend: backend, opts: opts, sleep: retry.Sleep}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	c.dims.Store(int64(opts.Dimensions))
	return c, nil
}

// Dimensions 返回当前约定的向量维度，尚未确定时为 0。
func (c *Client) Dimensions() int {
	return int(c.dims.Load())
}

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.call(ctx, []string{c.opts.DocumentPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.call(ctx, []string{c.opts.QueryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 按 BatchSize 分批顺序调用，批与批之间随机等待一段时间。
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.opts.BatchSize {
		if start > 0 {
			if err := c.sleep(ctx, c.pacingDelay()); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrService, err)
			}
		}
		end := min(start+c.opts.BatchSize, len(texts))

		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = c.opts.DocumentPrefix + t
		}
		vecs, err := c.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) pacingDelay() time.Duration {
	spread := c.opts.PacingMax - c.opts.PacingMin
	if spread <= 0 {
		return c.opts.PacingMin
	}
	return c.opts.PacingMin + time.Duration(rand.Int63n(int64(spread+1)))
}

// call 对单次上游调用做限速、超时与重试，失败时返回包装了 ErrService 的原始错误。
func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	provider := c.backend.Name()
	policy := retry.Policy{
		Attempts:   c.opts.Attempts,
		MinBackoff: c.opts.BackoffMin,
		MaxBackoff: c.opts.BackoffMax,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			metrics.EmbeddingRetries.WithLabelValues(provider).Inc()
			log.Warnw("[Embedding] 上游调用失败，准备重试",
				"provider", provider, "attempt", attempt, "wait", wait.String(), "error", err)
		},
	}

	vecs, err := retry.Do(ctx, policy, func(ctx context.Context) ([][]float32, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.opts.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		}
		defer cancel()

		start := time.Now()
		vecs, err := c.backend.Embed(callCtx, texts)
		metrics.EmbeddingLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		if err != nil {
			// 单次调用超时而外层 ctx 仍然有效，按可重试处理
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				err = retry.Transient(err)
			}
			if retry.IsTransient(err) {
				metrics.EmbeddingRequests.WithLabelValues(provider, "transient").Inc()
			} else {
				metrics.EmbeddingRequests.WithLabelValues(provider, "permanent").Inc()
			}
			return nil, err
		}
		if err := c.checkShape(texts, vecs); err != nil {
			metrics.EmbeddingRequests.WithLabelValues(provider, "permanent").Inc()
			return nil, err
		}
		metrics.EmbeddingRequests.WithLabelValues(provider, "ok").Inc()
		return vecs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	return vecs, nil
}

func (c *Client) checkShape(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("%s returned %d vectors for %d inputs", c.backend.Name(), len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%s returned an empty vector at position %d", c.backend.Name(), i)
		}
		want := c.dims.Load()
		if want == 0 && c.dims.CompareAndSwap(0, int64(len(v))) {
			want = int64(len(v))
		} else if want == 0 {
			want = c.dims.Load()
		}
		if int64(len(v)) != want {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
		}
	}
	return nil
}
