package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/deeplapi"
)

// GroupSource is the poller's view of the registry: which groups are active,
// which keys belong to them, and the metadata updated after a check.
type GroupSource interface {
	ActiveGroups(ctx context.Context) ([]models.Group, error)
	GroupByID(ctx context.Context, id int64) (*models.Group, error)
	KeysForPolling(ctx context.Context, groupID int64) ([]models.ApiKey, error)
	MarkChecked(ctx context.Context, keyID int64, at time.Time) error
	SetBillingWindow(ctx context.Context, keyID int64, w models.BillingWindow) error
}

// UsageSink receives one sample per successful provider call.
type UsageSink interface {
	Append(ctx context.Context, rec models.UsageRecord) error
}

// QuotaProvider is the external system queried for a key's current usage.
type QuotaProvider interface {
	Usage(ctx context.Context, secret string) (*deeplapi.Usage, error)
}

// TaskStatus describes one running group task.
type TaskStatus struct {
	GroupID  int64     `json:"group_id"`
	Interval int       `json:"interval"`
	NextRun  time.Time `json:"next_run"`
}

type groupTask struct {
	cancel   context.CancelFunc
	interval time.Duration
	lastTick time.Time
}

// GroupPoller runs one independently cancellable repeating task per active
// group. Tasks share no state beyond the sink; deactivating a group cancels
// its task at the next tick boundary, never mid-check.
type GroupPoller struct {
	groups        GroupSource
	sink          UsageSink
	provider      QuotaProvider
	maxConcurrent int

	mu      sync.Mutex
	tasks   map[int64]*groupTask
	baseCtx context.Context
}

func NewGroupPoller(groups GroupSource, sink UsageSink, provider QuotaProvider, maxConcurrent int) *GroupPoller {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &GroupPoller{
		groups:        groups,
		sink:          sink,
		provider:      provider,
		maxConcurrent: maxConcurrent,
		tasks:         make(map[int64]*groupTask),
		baseCtx:       context.Background(),
	}
}

// Start boots one repeating task for every active group. ctx cancellation
// stops all of them.
func (p *GroupPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	groups, err := p.groups.ActiveGroups(ctx)
	if err != nil {
		return err
	}

	for _, g := range groups {
		p.StartGroup(g)
	}

	log.Info().Int("groups", len(groups)).Msg("Group poller started")
	return nil
}

// StartGroup starts (or restarts) the repeating task for one group.
// Reactivation always begins a fresh interval.
func (p *GroupPoller) StartGroup(g models.Group) {
	if g.QueryInterval <= 0 {
		log.Warn().Int64("group_id", g.ID).Msg("Refusing to schedule group without a positive interval")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if task, ok := p.tasks[g.ID]; ok {
		task.cancel()
		delete(p.tasks, g.ID)
	}

	interval := time.Duration(g.QueryInterval) * time.Second
	taskCtx, cancel := context.WithCancel(p.baseCtx)
	task := &groupTask{cancel: cancel, interval: interval, lastTick: time.Now()}
	p.tasks[g.ID] = task

	go p.runLoop(taskCtx, g.ID, interval)

	log.Info().Int64("group_id", g.ID).Str("name", g.Name).Dur("interval", interval).Msg("Scheduled group usage checks")
}

// StopGroup cancels a group's repeating task. An in-flight check is left to
// finish; only future ticks stop.
func (p *GroupPoller) StopGroup(groupID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if task, ok := p.tasks[groupID]; ok {
		task.cancel()
		delete(p.tasks, groupID)
		log.Info().Int64("group_id", groupID).Msg("Stopped group usage checks")
	}
}

// SyncGroup reconciles the task registry with a group's current state after
// CRUD: active groups get a fresh task, inactive ones lose theirs.
func (p *GroupPoller) SyncGroup(g models.Group) {
	if g.IsActive && g.QueryInterval > 0 {
		p.StartGroup(g)
		return
	}
	p.StopGroup(g.ID)
}

// StopAll cancels every task.
func (p *GroupPoller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, task := range p.tasks {
		task.cancel()
		delete(p.tasks, id)
	}
}

// CheckNow triggers one out-of-band run for a group and returns immediately.
// The one-shot shares the per-key routine with scheduled ticks but runs on
// the poller's base context, so it neither resets nor delays the regular
// schedule.
func (p *GroupPoller) CheckNow(ctx context.Context, groupID int64) error {
	group, err := p.groups.GroupByID(ctx, groupID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	runCtx := p.baseCtx
	p.mu.Unlock()

	log.Info().Int64("group_id", groupID).Str("name", group.Name).Msg("Manual usage check requested")
	go p.checkGroup(runCtx, groupID)
	return nil
}

// Status lists the running tasks, sorted by group id.
func (p *GroupPoller) Status() []TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(p.tasks))
	for id, task := range p.tasks {
		statuses = append(statuses, TaskStatus{
			GroupID:  id,
			Interval: int(task.interval / time.Second),
			NextRun:  task.lastTick.Add(task.interval),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].GroupID < statuses[j].GroupID })
	return statuses
}

func (p *GroupPoller) runLoop(ctx context.Context, groupID int64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.markTick(groupID)
			p.mu.Lock()
			runCtx := p.baseCtx
			p.mu.Unlock()
			// Checks run detached from the task context: cancelling the
			// task stops future ticks at the boundary but never aborts an
			// in-flight check, and a slow provider never pushes the next
			// interval boundary.
			go p.checkGroup(runCtx, groupID)
		}
	}
}

func (p *GroupPoller) markTick(groupID int64) {
	p.mu.Lock()
	if task, ok := p.tasks[groupID]; ok {
		task.lastTick = time.Now()
	}
	p.mu.Unlock()
}

// checkGroup polls every key in the group concurrently under a semaphore.
// One key's failure or disappearance never aborts its siblings.
func (p *GroupPoller) checkGroup(ctx context.Context, groupID int64) {
	start := time.Now()

	keys, err := p.groups.KeysForPolling(ctx, groupID)
	if err != nil {
		log.Error().Err(err).Int64("group_id", groupID).Msg("Failed to load keys for usage check")
		return
	}
	if len(keys) == 0 {
		return
	}

	sem := make(chan struct{}, p.maxConcurrent)
	var wg sync.WaitGroup

	successCount := 0
	failCount := 0
	var countMu sync.Mutex

	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}

		go func(key models.ApiKey) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := p.checkKey(ctx, key)

			countMu.Lock()
			if ok {
				successCount++
			} else {
				failCount++
			}
			countMu.Unlock()
		}(key)
	}

	wg.Wait()

	log.Info().
		Int64("group_id", groupID).
		Int("total", len(keys)).
		Int("success", successCount).
		Int("failed", failCount).
		Dur("elapsed", time.Since(start)).
		Msg("Group usage check completed")
}

// checkKey performs one provider call and, on success, appends the sample
// and refreshes key metadata. On failure the prior state is left untouched.
func (p *GroupPoller) checkKey(ctx context.Context, key models.ApiKey) bool {
	usage, err := p.provider.Usage(ctx, key.Secret)
	if err != nil {
		perr := &models.ProviderError{KeyID: key.ID, Err: err}
		log.Error().Err(perr).Int64("key_id", key.ID).Str("name", key.Name).Msg("Usage check failed")
		return false
	}

	now := time.Now()
	rec := models.UsageRecord{
		KeyID:                key.ID,
		CheckTime:            now,
		CharacterCount:       usage.CharacterCount,
		CharacterLimit:       usage.CharacterLimit,
		APIKeyCharacterCount: usage.APIKeyCharacterCount,
		APIKeyCharacterLimit: usage.APIKeyCharacterLimit,
	}

	if err := p.sink.Append(ctx, rec); err != nil {
		if models.IsNotFound(err) {
			// Key deleted mid-tick; siblings continue.
			log.Warn().Int64("key_id", key.ID).Msg("Key vanished during usage check, skipping")
			return false
		}
		log.Error().Err(err).Int64("key_id", key.ID).Msg("Failed to store usage record")
		return false
	}

	if err := p.groups.MarkChecked(ctx, key.ID, now); err != nil {
		log.Error().Err(err).Int64("key_id", key.ID).Msg("Failed to update last check time")
	}

	if key.ApiType == models.ApiTypePro && usage.StartTime != nil && usage.EndTime != nil {
		window := models.BillingWindow{Start: *usage.StartTime, End: *usage.EndTime}
		if err := p.groups.SetBillingWindow(ctx, key.ID, window); err != nil {
			log.Error().Err(err).Int64("key_id", key.ID).Msg("Failed to update billing window")
		}
	}

	log.Debug().
		Int64("key_id", key.ID).
		Int64("character_count", usage.CharacterCount).
		Int64("character_limit", usage.CharacterLimit).
		Msg("Stored usage sample")
	return true
}
