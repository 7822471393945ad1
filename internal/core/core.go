// Package core exposes the inbound operations of the stake ledger. Adapters
// (HTTP, CLI, cron) call these and map the returned errs codes.
package core

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sheikh-saqib/stakes-ledger/internal/forgiveness"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/ledger"
	"github.com/sheikh-saqib/stakes-ledger/internal/logging"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/stats"
	"github.com/sheikh-saqib/stakes-ledger/internal/sweep"
	"github.com/sheikh-saqib/stakes-ledger/internal/tasks"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Options tune policy that is not part of a space's rules.
type Options struct {
	Calendar            timewindow.Calendar
	InitialCoins        int64
	DefaultGraceMinutes int
	VoteWindow          time.Duration
}

func DefaultOptions() Options {
	return Options{
		Calendar:     timewindow.NewCalendar(time.Sunday, time.UTC),
		InitialCoins: 100,
		VoteWindow:   forgiveness.DefaultVoteWindow,
	}
}

// Core wires every component around one store, directory and clock.
type Core struct {
	calendar     timewindow.Calendar
	clock        interfaces.Clock
	initialCoins int64

	Ledger      *ledger.Ledger
	Tasks       *tasks.Lifecycle
	Forgiveness *forgiveness.Service
	Sweeper     *sweep.Sweeper
	Stats       *stats.Aggregator
}

func New(store interfaces.Store, directory interfaces.SpaceDirectory, clock interfaces.Clock,
	publisher interfaces.EventPublisher, logger *log.Logger, opts Options) *Core {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	quota := forgiveness.Quota{Calendar: opts.Calendar}

	l := ledger.NewLedger(store, clock)
	lc := tasks.NewLifecycle(store, directory, l, clock, publisher, logging.Component(logger, "tasks"))
	lc.DefaultGraceMinutes = opts.DefaultGraceMinutes
	fs := forgiveness.NewService(store, directory, lc, quota, clock, publisher, logging.Component(logger, "vote"))
	if opts.VoteWindow > 0 {
		fs.VoteWindow = opts.VoteWindow
	}
	sw := sweep.New(store, directory, lc, fs, clock, logging.Component(logger, "sweep"))
	sw.DefaultGraceMinutes = opts.DefaultGraceMinutes

	return &Core{
		calendar:     opts.Calendar,
		clock:        clock,
		initialCoins: opts.InitialCoins,
		Ledger:       l,
		Tasks:        lc,
		Forgiveness:  fs,
		Sweeper:      sw,
		Stats:        stats.NewAggregator(store, directory, quota, clock, logging.Component(logger, "stats")),
	}
}

func (c *Core) Calendar() timewindow.Calendar { return c.calendar }

// SyncUser registers a user, crediting the starting coins the first time.
func (c *Core) SyncUser(ctx context.Context, userID string) (bool, error) {
	return c.Ledger.SyncUser(ctx, userID, c.initialCoins)
}

func (c *Core) GetBalance(ctx context.Context, userID string) (int64, error) {
	return c.Ledger.GetBalance(ctx, userID)
}

func (c *Core) ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return c.Ledger.GetLedgerEntries(ctx, userID)
}

func (c *Core) VerifyBalance(ctx context.Context, userID string) (ledger.Drift, error) {
	return c.Ledger.VerifyBalance(ctx, userID)
}

func (c *Core) Deposit(ctx context.Context, userID string, amount int64) (models.LedgerEntry, error) {
	return c.Ledger.Deposit(ctx, userID, amount)
}

func (c *Core) CreateTaskInstance(ctx context.Context, userID, spaceID string, task tasks.NewTask) (models.TaskInstance, error) {
	return c.Tasks.Create(ctx, userID, spaceID, task)
}

func (c *Core) CreateBatch(ctx context.Context, userID, spaceID string, batch []tasks.NewTask) ([]models.TaskInstance, error) {
	return c.Tasks.CreateBatch(ctx, userID, spaceID, batch)
}

// CreateTodayBatch schedules rows due at the end of the current day.
func (c *Core) CreateTodayBatch(ctx context.Context, userID, spaceID string, rows []tasks.Row) ([]models.TaskInstance, error) {
	return c.Tasks.CreateBatch(ctx, userID, spaceID, tasks.PlanToday(c.calendar, c.clock.Now(), rows))
}

// CreateWeekBatch schedules rows across the current week.
func (c *Core) CreateWeekBatch(ctx context.Context, userID, spaceID string, rows []tasks.Row) ([]models.TaskInstance, error) {
	batch, err := tasks.PlanWeek(c.calendar, c.clock.Now(), rows)
	if err != nil {
		return nil, err
	}
	return c.Tasks.CreateBatch(ctx, userID, spaceID, batch)
}

// ScheduleRecurring creates the next instance of a recurring template.
func (c *Core) ScheduleRecurring(ctx context.Context, userID, spaceID, title string, stake int64,
	recurrence tasks.Recurrence, weekday int) (models.TaskInstance, error) {
	due, err := tasks.NextOccurrence(c.calendar, c.clock.Now(), recurrence, weekday)
	if err != nil {
		return models.TaskInstance{}, err
	}
	return c.Tasks.Create(ctx, userID, spaceID, tasks.NewTask{Title: title, DueAt: due, Stake: stake})
}

func (c *Core) CompleteTask(ctx context.Context, instanceID, by string) (models.TaskInstance, error) {
	return c.Tasks.Complete(ctx, instanceID, by)
}

func (c *Core) GetTask(ctx context.Context, instanceID string) (models.TaskInstance, error) {
	return c.Tasks.Get(ctx, instanceID)
}

func (c *Core) RequestPersonalForgiveness(ctx context.Context, instanceID, by string) (models.TaskInstance, error) {
	return c.Forgiveness.ForgivePersonally(ctx, instanceID, by)
}

func (c *Core) RequestGroupForgiveness(ctx context.Context, instanceID, by string) (models.ForgivenessRequest, error) {
	return c.Forgiveness.RequestGroupForgiveness(ctx, instanceID, by)
}

func (c *Core) VoteOnRequest(ctx context.Context, requestID, voter string, choice models.VoteChoice) (forgiveness.Tally, error) {
	return c.Forgiveness.Vote(ctx, requestID, voter, choice)
}

func (c *Core) GetRequest(ctx context.Context, requestID string) (models.ForgivenessRequest, error) {
	return c.Forgiveness.GetRequest(ctx, requestID)
}

// PendingRequests lists the open forgiveness votes of a space for a member.
func (c *Core) PendingRequests(ctx context.Context, spaceID, viewer string) ([]models.ForgivenessRequest, error) {
	return c.Forgiveness.PendingRequests(ctx, spaceID, viewer)
}

// Leaderboard returns a space's weekly stats, best completion first. A zero
// week selects the last finished week, the one the aggregation job writes.
func (c *Core) Leaderboard(ctx context.Context, spaceID, viewer string, week models.WeekKey) ([]models.WeeklyStats, error) {
	if week == (models.WeekKey{}) {
		week = c.calendar.PreviousWeek(c.clock.Now()).Key
	}
	return c.Stats.Leaderboard(ctx, spaceID, viewer, week)
}

// QuotaStatus reports this week's personal tokens used and allowed.
func (c *Core) QuotaStatus(ctx context.Context, userID, spaceID string) (used, limit int, err error) {
	return c.Forgiveness.QuotaStatus(ctx, userID, spaceID)
}

func (c *Core) RunDeadlineSweep(ctx context.Context) (sweep.Report, error) {
	return c.Sweeper.Run(ctx)
}

func (c *Core) RunWeeklyAggregation(ctx context.Context) (stats.Report, error) {
	return c.Stats.Run(ctx)
}

// Jobs returns the periodic sweep and aggregation jobs for a Scheduler.
func (c *Core) Jobs(sweepEvery, aggregateEvery time.Duration) []sweep.Job {
	return []sweep.Job{
		{Name: "deadline-sweep", Interval: sweepEvery, Run: func(ctx context.Context) error {
			_, err := c.RunDeadlineSweep(ctx)
			return err
		}},
		{Name: "weekly-aggregation", Interval: aggregateEvery, Run: func(ctx context.Context) error {
			_, err := c.RunWeeklyAggregation(ctx)
			return err
		}},
	}
}
