package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pushgate-labs/pushgate/internal/gateway"
	"github.com/pushgate-labs/pushgate/internal/metrics"
	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/payload"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// ErrBatchInFlight signals an overlapping ProcessPending invocation. The
// batch lock prevents two runs from double-sending the same records.
var ErrBatchInFlight = errors.New("dispatch batch already running")

// DispatchResult aggregates one batch run.
type DispatchResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// MultiResult aggregates a direct batch send.
type MultiResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// DispatcherOptions bound the dispatcher's concurrency and timeouts.
type DispatcherOptions struct {
	Workers        int
	TargetTimeout  time.Duration
	MulticastLimit int
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Workers <= 0 {
		o.Workers = 16
	}
	if o.TargetTimeout <= 0 {
		o.TargetTimeout = 5 * time.Second
	}
	if o.MulticastLimit <= 0 {
		o.MulticastLimit = 500
	}
	return o
}

// Dispatcher drains due notification records and forwards them to the
// push gateway. A nil gateway degrades to queue-but-never-send.
type Dispatcher struct {
	store   storage.Store
	prefs   *PreferenceService
	gateway gateway.Client
	opts    DispatcherOptions

	mu sync.Mutex // single-flight batch guard
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store storage.Store, prefs *PreferenceService, gw gateway.Client, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		store:   store,
		prefs:   prefs,
		gateway: gw,
		opts:    opts.withDefaults(),
	}
}

// GatewayConfigured reports whether the dispatcher can reach a provider.
func (d *Dispatcher) GatewayConfigured() bool {
	return d.gateway != nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeDeleted
)

// ProcessPending pulls due records in creation order, up to limit, and
// attempts delivery. Counts are partial when the batch deadline expires;
// remaining records stay pending for the next run.
func (d *Dispatcher) ProcessPending(ctx context.Context, limit int) (DispatchResult, error) {
	if !d.mu.TryLock() {
		return DispatchResult{}, ErrBatchInFlight
	}
	defer d.mu.Unlock()

	var res DispatchResult
	if d.gateway == nil {
		// no credentials: records queue until configuration appears
		return res, nil
	}
	due, err := d.store.ListDue(ctx, time.Now().UTC(), limit)
	if err != nil {
		return res, err
	}
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		switch d.processOne(ctx, n) {
		case outcomeSent:
			res.Sent++
		case outcomeFailed:
			res.Failed++
		case outcomeDeleted:
			// unresolvable record removed, counted processed only
		}
	}
	return res, nil
}

func (d *Dispatcher) processOne(ctx context.Context, n *model.Notification) outcome {
	// status transitions must land even when the batch deadline expires
	// while this record's gateway calls are in flight; otherwise an
	// already-delivered record stays pending and the next run resends it
	storeCtx := context.WithoutCancel(ctx)

	if n.Target.Kind == model.TargetRecipient {
		pref, err := d.prefs.ForRecipient(ctx, n.Target.Recipient)
		if err != nil {
			log.Error().Str("notification", n.ID).Err(err).Msg("preference lookup failed")
		} else if !d.prefs.ShouldDeliver(pref, n.Category, n.Priority, time.Now()) {
			// intentionally-suppressed delivery is terminal sent, not a failure
			if _, err := d.store.MarkSent(storeCtx, n.ID, true); err != nil {
				log.Error().Str("notification", n.ID).Err(err).Msg("mark suppressed failed")
			}
			metrics.Suppressed.Inc()
			return outcomeSent
		}
	}

	apple, android, err := payload.Encode(n, time.Now().UTC())
	if err != nil {
		// record-level encode failure must not crash the batch
		log.Error().Str("notification", n.ID).Err(err).Msg("payload encoding failed")
		if _, err := d.store.MarkFailed(storeCtx, n.ID); err != nil {
			log.Error().Str("notification", n.ID).Err(err).Msg("mark failed failed")
		}
		metrics.Failed.Inc()
		return outcomeFailed
	}

	switch n.Target.Kind {
	case model.TargetTopic:
		d.sendToTarget(ctx, n.ID, &gateway.Message{
			Topic:   n.Target.Topic,
			Apple:   apple,
			Android: android,
		})
	default:
		targets, err := d.resolveTargets(ctx, n)
		if err != nil {
			log.Error().Str("notification", n.ID).Err(err).Msg("target resolution failed")
			if _, err := d.store.MarkFailed(storeCtx, n.ID); err != nil {
				log.Error().Str("notification", n.ID).Err(err).Msg("mark failed failed")
			}
			metrics.Failed.Inc()
			return outcomeFailed
		}
		if len(targets) == 0 {
			// a record with no resolvable tokens can never succeed
			if err := d.store.DeleteNotification(storeCtx, n.ID); err != nil {
				log.Error().Str("notification", n.ID).Err(err).Msg("orphan delete failed")
			}
			metrics.Orphaned.Inc()
			log.Info().Str("notification", n.ID).Msg("deleted orphaned notification")
			return outcomeDeleted
		}
		d.fanOut(ctx, n.ID, targets, apple, android)
	}

	changed, err := d.store.MarkSent(storeCtx, n.ID, false)
	if err != nil {
		log.Error().Str("notification", n.ID).Err(err).Msg("mark sent failed")
	} else if !changed {
		log.Debug().Str("notification", n.ID).Msg("record no longer pending, skipping status update")
	}
	metrics.Sent.Inc()
	return outcomeSent
}

type resolvedTarget struct {
	token    string
	platform model.Platform
}

// resolveTargets maps the record's address to concrete push tokens. Token
// targets resolve against the registry for platform selection; tokens
// without a live device are dropped. Recipient targets expand to every
// active, push-capable device the recipient owns.
func (d *Dispatcher) resolveTargets(ctx context.Context, n *model.Notification) ([]resolvedTarget, error) {
	now := time.Now().UTC()
	switch n.Target.Kind {
	case model.TargetTokens:
		var out []resolvedTarget
		for _, token := range n.Target.Tokens {
			device, err := d.store.GetDeviceByToken(ctx, token)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, err
			}
			if !device.Active(now) {
				continue
			}
			out = append(out, resolvedTarget{token: token, platform: device.Platform})
		}
		return out, nil
	case model.TargetRecipient:
		devices, err := d.store.ListDevicesByOwner(ctx, n.Target.Recipient)
		if err != nil {
			return nil, err
		}
		var out []resolvedTarget
		for _, device := range devices {
			if device.PushToken == "" || !device.Active(now) {
				continue
			}
			out = append(out, resolvedTarget{token: device.PushToken, platform: device.Platform})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported target kind %q", n.Target.Kind)
}

// fanOut sends one gateway call per resolved token through a bounded
// worker pool. Per-target failures are logged and counted but never block
// the remaining targets. Once the batch deadline passes no new calls
// start; in-flight calls run to their own timeout.
func (d *Dispatcher) fanOut(ctx context.Context, notificationID string, targets []resolvedTarget, apple *payload.AppleMessage, android *payload.AndroidMessage) {
	sem := semaphore.NewWeighted(int64(d.opts.Workers))
	var wg sync.WaitGroup
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(target resolvedTarget) {
			defer wg.Done()
			defer sem.Release(1)
			msg := &gateway.Message{Token: target.token}
			switch target.platform {
			case model.PlatformIOS:
				msg.Apple = apple
			case model.PlatformAndroid:
				msg.Android = android
			default:
				msg.Apple = apple
				msg.Android = android
			}
			d.sendToTarget(ctx, notificationID, msg)
		}(target)
	}
	wg.Wait()
}

// sendToTarget performs one gateway call under the per-call deadline.
func (d *Dispatcher) sendToTarget(ctx context.Context, notificationID string, msg *gateway.Message) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.TargetTimeout)
	defer cancel()
	if err := d.gateway.Send(callCtx, msg); err != nil {
		target := msg.Token
		if target == "" {
			target = "topic:" + msg.Topic
		}
		log.Warn().
			Str("notification", notificationID).
			Str("target", target).
			Err(err).
			Msg("target delivery failed")
		metrics.TargetFailures.Inc()
	}
}

// SendToMultiple pushes an ad-hoc alert straight to a token list, grouped
// into provider-sized chunks. Outcomes are aggregate only.
func (d *Dispatcher) SendToMultiple(ctx context.Context, tokens []string, title, body string, data map[string]any) (MultiResult, error) {
	var res MultiResult
	if d.gateway == nil {
		return res, gateway.ErrNotConfigured
	}
	if len(tokens) == 0 {
		return res, nil
	}
	n := &model.Notification{
		ID:       uuid.NewString(),
		Title:    title,
		Message:  body,
		Data:     data,
		Target:   model.TokensTarget(tokens...),
		Category: model.DefaultCategory,
		Priority: model.PriorityNormal,
	}
	apple, android, err := payload.Encode(n, time.Now().UTC())
	if err != nil {
		return res, err
	}
	msg := &gateway.Message{Apple: apple, Android: android}
	chunked(tokens, d.opts.MulticastLimit)(func(chunk []string) bool {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.TargetTimeout)
		outcome, err := d.gateway.SendMulticast(callCtx, msg, chunk)
		cancel()
		if err != nil {
			log.Warn().Int("tokens", len(chunk)).Err(err).Msg("multicast chunk failed")
			res.Failed += len(chunk)
			return true
		}
		res.Success += outcome.Success
		res.Failed += outcome.Failed
		return true
	})
	return res, nil
}

// chunked yields size-bounded slices of tokens.
func chunked(tokens []string, size int) func(func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(tokens); start += size {
			end := min(start+size, len(tokens))
			if !yield(tokens[start:end]) {
				return
			}
		}
	}
}
