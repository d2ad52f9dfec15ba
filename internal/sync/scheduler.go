package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mailchat/mailchat/internal/imap"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// reconcileInterval is how often the scheduler compares its running tasks
// against the account list.
const reconcileInterval = 5 * time.Second

// Scheduler runs one independent poll task per account. Tasks for different
// accounts run fully in parallel; a removed account's task stops before its
// next tick.
type Scheduler struct {
	syncer     *Syncer
	store      store.ChatStore
	enableIdle bool

	mu    sync.Mutex
	tasks map[int64]*accountTask
	wg    sync.WaitGroup
}

type accountTask struct {
	cancel context.CancelFunc
	wake   chan struct{}
}

func NewScheduler(syncer *Syncer, chatStore store.ChatStore, enableIdle bool) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		store:      chatStore,
		enableIdle: enableIdle,
		tasks:      make(map[int64]*accountTask),
	}
}

// Run blocks, reconciling poll tasks against the account list until the
// context is canceled, then waits for all tasks to stop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Wake nudges the account's task to sync now instead of waiting for its
// next tick. A missing task or a task already signaled is a no-op.
func (s *Scheduler) Wake(accountID int64) {
	s.mu.Lock()
	task, ok := s.tasks[accountID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case task.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		log.Printf("scheduler: failed to list accounts: %v", err)
		return
	}

	current := make(map[int64]*models.Account, len(accounts))
	for _, account := range accounts {
		current[account.ID] = account
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, task := range s.tasks {
		if _, ok := current[id]; !ok {
			task.cancel()
			delete(s.tasks, id)
		}
	}

	for id := range current {
		if _, ok := s.tasks[id]; ok {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		task := &accountTask{cancel: cancel, wake: make(chan struct{}, 1)}
		s.tasks[id] = task

		s.wg.Add(1)
		go func(accountID int64) {
			defer s.wg.Done()
			s.runAccount(taskCtx, accountID, task.wake)
		}(id)

		if s.enableIdle {
			s.wg.Add(1)
			go func(accountID int64) {
				defer s.wg.Done()
				s.runIdleWatcher(taskCtx, accountID)
			}(id)
		}
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		task.cancel()
		delete(s.tasks, id)
	}
}

// runAccount is the per-account poll loop. Settings are read once per cycle
// so changes take effect on the next tick, never mid-cycle.
func (s *Scheduler) runAccount(ctx context.Context, accountID int64, wake <-chan struct{}) {
	for {
		interval := models.MinPollInterval
		settings, err := s.store.GetSettings(ctx)
		if err != nil {
			log.Printf("scheduler: account %d: failed to read settings: %v", accountID, err)
		} else {
			if settings.PollInterval > interval {
				interval = settings.PollInterval
			}
			if settings.AutoSyncEnabled {
				if _, err := s.syncer.Sync(ctx, accountID); err != nil {
					log.Printf("scheduler: account %d: sync failed: %v", accountID, err)
				}
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// runIdleWatcher keeps a dedicated IMAP session idling on the INBOX and
// wakes the poll task when the server reports activity. Watcher failures
// back off and reconnect; polling alone still makes progress without it.
func (s *Scheduler) runIdleWatcher(ctx context.Context, accountID int64) {
	const backoff = 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.idleOnce(ctx, accountID); err != nil && ctx.Err() == nil {
			log.Printf("scheduler: account %d: idle watcher: %v", accountID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Scheduler) idleOnce(ctx context.Context, accountID int64) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	password, err := s.syncer.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return err
	}

	session, err := imap.Connect(account, password, s.syncer.timeout)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Idle(ctx, func() { s.Wake(accountID) })
}
