// Package interact funnels viewer reactions into the interaction partition
// of the shared store. Any number of devices write concurrently; every write
// is a per-device map upsert or a commutative counter bump, so no viewer can
// clobber another viewer's data.
package interact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/store"
)

var (
	ErrCooldown    = errors.New("interaction cooldown active")
	ErrNotEntitled = errors.New("device not entitled to send alerts")
)

const (
	AlertCooldown = 30 * time.Second
	CheerCooldown = 3 * time.Second

	// HeartbeatInterval is how often a connected viewer refreshes its
	// presence entry; an entry is stale after three missed beats.
	HeartbeatInterval = 30 * time.Second
	staleMultiplier   = 3
)

// Interaction document field names.
const (
	FieldPresence    = "presence"
	FieldAlerts      = "alerts"
	FieldLatestAlert = "latestAlert"
	FieldCheerCount  = "cheerCount"
	FieldViewerCount = "viewerCount"
	FieldLastCheerAt = "lastCheerAt"
)

// Alert types a viewer can raise toward the scorekeeper.
const (
	AlertScoreCorrection = "score-correction"
	AlertShoutout        = "shoutout"
)

// Presence is one device's entry in the presence map, keyed by device id.
type Presence struct {
	DeviceID    string      `json:"deviceId"`
	Name        string      `json:"name"`
	CheeringFor engine.Team `json:"cheeringFor,omitempty"`
	JoinedAt    time.Time   `json:"joinedAt"`
	LastSeen    time.Time   `json:"lastSeen"`
}

// Alert is a viewer-raised notification for the scorekeeper, appended to the
// alerts list and mirrored into the latestAlert summary field.
type Alert struct {
	Type           string        `json:"type"`
	SenderDeviceID string        `json:"senderDeviceId"`
	SenderName     string        `json:"senderName"`
	SuggestedScore *engine.Score `json:"suggestedScore,omitempty"`
	Message        string        `json:"message,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Acknowledged   bool          `json:"acknowledged"`
}

// InteractionDoc is the decoded interaction partition.
type InteractionDoc struct {
	Presence    map[string]Presence `json:"presence"`
	Alerts      []Alert             `json:"alerts"`
	LatestAlert *Alert              `json:"latestAlert,omitempty"`
	CheerCount  int64               `json:"cheerCount"`
	ViewerCount int64               `json:"viewerCount"`
	LastCheerAt time.Time           `json:"lastCheerAt"`
}

// Decode reconstructs the interaction document from stored fields. Values
// round-trip through JSON so in-memory and Postgres documents decode alike.
func Decode(doc store.Document) (InteractionDoc, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return InteractionDoc{}, fmt.Errorf("encode interaction fields: %w", err)
	}
	var out InteractionDoc
	if err := json.Unmarshal(raw, &out); err != nil {
		return InteractionDoc{}, fmt.Errorf("decode interaction document: %w", err)
	}
	return out, nil
}

// EntitlementChecker gates alert sending. Implementations live outside this
// module; a nil checker allows everyone.
type EntitlementChecker interface {
	CanSendAlert(ctx context.Context, deviceID string) (bool, error)
}

// Aggregator is one device's writer into a match's interaction partition.
// Cooldowns are enforced on the sending side; the store never rejects a
// well-formed interaction write.
type Aggregator struct {
	store    store.Store
	log      *zap.Logger
	entitled EntitlementChecker

	code     string
	deviceID string
	name     string
	now      func() time.Time

	mu          sync.Mutex
	presence    Presence
	registered  bool
	lastAlertAt time.Time
	lastCheerAt time.Time
}

func NewAggregator(st store.Store, log *zap.Logger, entitled EntitlementChecker, code, deviceID, name string) *Aggregator {
	return &Aggregator{
		store:    st,
		log:      log,
		entitled: entitled,
		code:     code,
		deviceID: deviceID,
		name:     name,
		now:      time.Now,
	}
}

func (a *Aggregator) DeviceID() string { return a.deviceID }

// RegisterPresence announces the device and bumps the viewer counter. The
// presence entry is keyed by device id, so re-registering overwrites only
// this device's entry.
func (a *Aggregator) RegisterPresence(ctx context.Context, cheeringFor engine.Team) error {
	now := a.now().UTC()
	p := Presence{
		DeviceID:    a.deviceID,
		Name:        a.name,
		CheeringFor: cheeringFor,
		JoinedAt:    now,
		LastSeen:    now,
	}
	a.mu.Lock()
	if a.registered {
		// Re-registering switches sides or fixes the name; it is not a
		// second viewer.
		p.JoinedAt = a.presence.JoinedAt
	}
	first := !a.registered
	a.mu.Unlock()

	if err := a.store.SetMapEntry(ctx, a.code, FieldPresence, a.deviceID, p); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	if first {
		if err := a.store.IncrCounter(ctx, a.code, FieldViewerCount, 1); err != nil {
			return fmt.Errorf("bump viewer count: %w", err)
		}
	}
	a.mu.Lock()
	a.presence = p
	a.registered = true
	a.mu.Unlock()
	return nil
}

// Heartbeat refreshes LastSeen. Best effort: a missed beat costs nothing a
// later beat does not repair, so failures are logged and swallowed.
func (a *Aggregator) Heartbeat(ctx context.Context) {
	a.mu.Lock()
	p := a.presence
	p.LastSeen = a.now().UTC()
	a.presence = p
	a.mu.Unlock()

	if err := a.store.SetMapEntry(ctx, a.code, FieldPresence, a.deviceID, p); err != nil {
		a.log.Debug("heartbeat dropped", zap.String("code", a.code), zap.Error(err))
	}
}

// Unregister removes the presence entry and decrements the viewer counter.
// Best effort: stale entries are pruned by the maintenance path anyway.
func (a *Aggregator) Unregister(ctx context.Context) {
	a.mu.Lock()
	registered := a.registered
	a.registered = false
	a.mu.Unlock()
	if !registered {
		return
	}

	if err := a.store.DeleteMapEntry(ctx, a.code, FieldPresence, a.deviceID); err != nil {
		a.log.Debug("unregister dropped", zap.String("code", a.code), zap.Error(err))
		return
	}
	if err := a.store.IncrCounter(ctx, a.code, FieldViewerCount, -1); err != nil {
		a.log.Debug("viewer count decrement dropped", zap.String("code", a.code), zap.Error(err))
	}
}

// SendAlert appends an alert and updates the latestAlert summary. Subject to
// the per-device cooldown and the entitlement gate.
func (a *Aggregator) SendAlert(ctx context.Context, alert Alert) error {
	now := a.now().UTC()

	a.mu.Lock()
	remaining := cooldownRemaining(a.lastAlertAt, AlertCooldown, now)
	a.mu.Unlock()
	if remaining > 0 {
		return fmt.Errorf("%w: %s left", ErrCooldown, remaining.Round(time.Second))
	}

	if a.entitled != nil {
		ok, err := a.entitled.CanSendAlert(ctx, a.deviceID)
		if err != nil {
			return fmt.Errorf("check entitlement: %w", err)
		}
		if !ok {
			return ErrNotEntitled
		}
	}

	alert.SenderDeviceID = a.deviceID
	alert.SenderName = a.name
	alert.Timestamp = now
	alert.Acknowledged = false

	if err := a.store.AppendList(ctx, a.code, FieldAlerts, alert); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	if err := a.store.SetInteractionField(ctx, a.code, FieldLatestAlert, alert); err != nil {
		return fmt.Errorf("set latest alert: %w", err)
	}

	a.mu.Lock()
	a.lastAlertAt = now
	a.mu.Unlock()
	a.log.Info("alert sent",
		zap.String("code", a.code),
		zap.String("type", alert.Type),
		zap.String("device", a.deviceID))
	return nil
}

// SendCheer bumps the cheer counter. Concurrent cheers from any number of
// devices all count; the increment is commutative.
func (a *Aggregator) SendCheer(ctx context.Context) error {
	now := a.now().UTC()

	a.mu.Lock()
	remaining := cooldownRemaining(a.lastCheerAt, CheerCooldown, now)
	a.mu.Unlock()
	if remaining > 0 {
		return fmt.Errorf("%w: %s left", ErrCooldown, remaining.Round(time.Millisecond))
	}

	if err := a.store.IncrCounter(ctx, a.code, FieldCheerCount, 1); err != nil {
		return fmt.Errorf("bump cheer count: %w", err)
	}
	if err := a.store.SetInteractionField(ctx, a.code, FieldLastCheerAt, now); err != nil {
		return fmt.Errorf("set last cheer time: %w", err)
	}

	a.mu.Lock()
	a.lastCheerAt = now
	a.mu.Unlock()
	return nil
}

// AlertCooldownRemaining reports how long until this device may alert again.
func (a *Aggregator) AlertCooldownRemaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cooldownRemaining(a.lastAlertAt, AlertCooldown, a.now())
}

// CheerCooldownRemaining reports how long until this device may cheer again.
func (a *Aggregator) CheerCooldownRemaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cooldownRemaining(a.lastCheerAt, CheerCooldown, a.now())
}

func cooldownRemaining(last time.Time, cooldown time.Duration, now time.Time) time.Duration {
	if last.IsZero() {
		return 0
	}
	if rem := cooldown - now.Sub(last); rem > 0 {
		return rem
	}
	return 0
}

// StalePresence lists device ids whose last heartbeat is older than three
// intervals. Advisory only; viewers render it as "maybe left".
func StalePresence(doc InteractionDoc, now time.Time, interval time.Duration) []string {
	cutoff := now.Add(-staleMultiplier * interval)
	var stale []string
	for id, p := range doc.Presence {
		if p.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// PruneStale removes stale presence entries and settles the viewer counter.
// Meant for the authoritative side's maintenance loop, not for viewers.
func PruneStale(ctx context.Context, st store.Store, log *zap.Logger, code string, interval time.Duration, now time.Time) error {
	doc, err := st.Interactions(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load interactions: %w", err)
	}
	decoded, err := Decode(doc)
	if err != nil {
		return err
	}
	for _, id := range StalePresence(decoded, now, interval) {
		if err := st.DeleteMapEntry(ctx, code, FieldPresence, id); err != nil {
			return fmt.Errorf("prune presence %s: %w", id, err)
		}
		if err := st.IncrCounter(ctx, code, FieldViewerCount, -1); err != nil {
			return fmt.Errorf("settle viewer count: %w", err)
		}
		log.Debug("pruned stale viewer", zap.String("code", code), zap.String("device", id))
	}
	return nil
}
