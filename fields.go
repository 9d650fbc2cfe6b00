package scanbridge

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/scan"
)

// FieldRegistry tracks the shell input fields bound to capture adapters and
// which WebSocket connection owns each binding. A field id is global: a
// second registration takes the binding over, which is what happens when a
// shell reloads and re-registers its form.
type FieldRegistry struct {
	mu        sync.Mutex
	fields    map[string]*registeredField
	validator *scan.Validator
	clk       clock.Clock
	logger    zerolog.Logger

	onScan    func(scan.ScanEvent)
	onCommand func(owner string, cmd scan.ControlCommand)
}

type registeredField struct {
	adapter *scan.FieldAdapter
	owner   string

	// clearOnScan keeps the per-field override alive across SetConfig.
	clearOnScan *bool
}

func (f *registeredField) config(cfg scan.Config) scan.Config {
	if f.clearOnScan != nil {
		cfg.ClearOnScan = *f.clearOnScan
	}
	return cfg
}

// NewFieldRegistry returns an empty registry sharing the given validator
// across every adapter it creates.
func NewFieldRegistry(validator *scan.Validator, clk clock.Clock, logger zerolog.Logger) *FieldRegistry {
	return &FieldRegistry{
		fields:    make(map[string]*registeredField),
		validator: validator,
		clk:       clk,
		logger:    logger.With().Str("component", "fields").Logger(),
	}
}

// OnScan sets the sink for scans emitted by any registered field. Set it
// before the first Register call; adapters capture it at registration.
func (r *FieldRegistry) OnScan(fn func(scan.ScanEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onScan = fn
}

// OnCommand sets the sink for control commands, along with the connection
// that owns the target field. Same capture rule as OnScan.
func (r *FieldRegistry) OnCommand(fn func(owner string, cmd scan.ControlCommand)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCommand = fn
}

// Register binds a field id to a new capture adapter owned by the given
// connection. clearOnScan overrides the config default for this field when
// non-nil.
func (r *FieldRegistry) Register(owner, fieldID string, cfg scan.Config, clearOnScan *bool) (*scan.FieldAdapter, error) {
	if fieldID == "" {
		return nil, fmt.Errorf("field id must not be empty")
	}
	entry := &registeredField{owner: owner, clearOnScan: clearOnScan}

	r.mu.Lock()
	onScan := r.onScan
	onCommand := r.onCommand

	replaced := r.fields[fieldID]
	if replaced != nil {
		r.logger.Info().Str("field_id", fieldID).Str("previous_owner", replaced.owner).Msg("field registration taken over")
	}

	adapter := scan.NewFieldAdapter(fieldID, entry.config(cfg), r.validator, r.clk, r.logger)
	if onScan != nil {
		adapter.OnScan(onScan)
	}
	if onCommand != nil {
		adapter.OnCommand(func(cmd scan.ControlCommand) {
			onCommand(owner, cmd)
		})
	}
	entry.adapter = adapter
	r.fields[fieldID] = entry
	count := len(r.fields)
	r.mu.Unlock()

	// Closed outside the registry lock: the old adapter may be mid flush.
	if replaced != nil {
		replaced.adapter.Close()
	}

	metricRegisteredFields.Set(float64(count))
	r.logger.Info().Str("field_id", fieldID).Str("owner", owner).Msg("field registered")
	return adapter, nil
}

// Release unbinds a field id. Releasing an unknown id is a no-op.
func (r *FieldRegistry) Release(fieldID string) {
	r.mu.Lock()
	entry, ok := r.fields[fieldID]
	if ok {
		delete(r.fields, fieldID)
	}
	count := len(r.fields)
	r.mu.Unlock()

	if !ok {
		return
	}
	entry.adapter.Close()
	metricRegisteredFields.Set(float64(count))
	r.logger.Info().Str("field_id", fieldID).Msg("field released")
}

// ReleaseOwnedBy unbinds every field registered by a connection, used when
// its WebSocket goes away.
func (r *FieldRegistry) ReleaseOwnedBy(owner string) {
	r.mu.Lock()
	var dropped []*registeredField
	for fieldID, entry := range r.fields {
		if entry.owner == owner {
			dropped = append(dropped, entry)
			delete(r.fields, fieldID)
		}
	}
	count := len(r.fields)
	r.mu.Unlock()

	for _, entry := range dropped {
		entry.adapter.Close()
	}
	if len(dropped) > 0 {
		metricRegisteredFields.Set(float64(count))
		r.logger.Info().Str("owner", owner).Int("released", len(dropped)).Msg("fields released with connection")
	}
}

// Get returns the adapter bound to a field id.
func (r *FieldRegistry) Get(fieldID string) (*scan.FieldAdapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.fields[fieldID]
	if !ok {
		return nil, false
	}
	return entry.adapter, true
}

// IDs returns the registered field ids.
func (r *FieldRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.fields))
	for fieldID := range r.fields {
		ids = append(ids, fieldID)
	}
	return ids
}

// Count returns the number of registered fields.
func (r *FieldRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fields)
}

// SetConfig pushes new capture tuning to every registered adapter,
// preserving each field's registration-time clearOnScan override.
func (r *FieldRegistry) SetConfig(cfg scan.Config) {
	r.mu.Lock()
	entries := make([]*registeredField, 0, len(r.fields))
	for _, entry := range r.fields {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.adapter.SetConfig(entry.config(cfg))
	}
}

// AggregateStats sums the capture counters across all registered fields.
func (r *FieldRegistry) AggregateStats() scan.CaptureStats {
	r.mu.Lock()
	adapters := make([]*scan.FieldAdapter, 0, len(r.fields))
	for _, entry := range r.fields {
		adapters = append(adapters, entry.adapter)
	}
	r.mu.Unlock()

	var total scan.CaptureStats
	for _, adapter := range adapters {
		s := adapter.Stats()
		total.KeysBuffered += s.KeysBuffered
		total.KeysIgnored += s.KeysIgnored
		total.BurstsSplit += s.BurstsSplit
		total.BuffersAbandoned += s.BuffersAbandoned
		total.ScansEmitted += s.ScansEmitted
		total.ScansRejected += s.ScansRejected
		if s.LastScanTime.After(total.LastScanTime) {
			total.LastScanTime = s.LastScanTime
		}
	}
	return total
}
