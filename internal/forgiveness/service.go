package forgiveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	taskevents "github.com/sheikh-saqib/stakes-ledger/internal/models/events"
	"github.com/sheikh-saqib/stakes-ledger/internal/tasks"
)

const (
	DefaultVoteWindow       = 12 * time.Hour
	defaultThresholdPercent = 50
)

type Service struct {
	store     interfaces.Store
	directory interfaces.SpaceDirectory
	lifecycle *tasks.Lifecycle
	quota     Quota
	clock     interfaces.Clock
	publisher interfaces.EventPublisher
	logger    *log.Logger

	VoteWindow time.Duration
}

func NewService(store interfaces.Store, directory interfaces.SpaceDirectory, lifecycle *tasks.Lifecycle,
	quota Quota, clock interfaces.Clock, publisher interfaces.EventPublisher, logger *log.Logger) *Service {
	return &Service{
		store:      store,
		directory:  directory,
		lifecycle:  lifecycle,
		quota:      quota,
		clock:      clock,
		publisher:  publisher,
		logger:     logger,
		VoteWindow: DefaultVoteWindow,
	}
}

// ForgivePersonally spends one of the owner's weekly tokens and reverses the
// miss. Token, status and refund commit together or not at all. It is refused
// while a group vote on the task is still open.
func (s *Service) ForgivePersonally(ctx context.Context, instanceID, by string) (models.TaskInstance, error) {
	var outbox events.Outbox
	var forgiven models.TaskInstance
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		inst, err := s.lifecycle.LoadForUpdate(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if inst.UserID != by {
			return errs.New(errs.NotAuthorized, "task %s belongs to another member", instanceID)
		}
		if inst.Status != models.StatusMissed {
			return errs.New(errs.InvalidState, "task %s is not missed (%s)", instanceID, inst.Status)
		}
		open, err := tx.GetRequestByTask(ctx, instanceID)
		switch {
		case err == nil && open.Status == models.RequestPending && now.Before(open.ExpiresAt):
			return errs.New(errs.InvalidState, "a group vote on task %s is open until %s", instanceID, open.ExpiresAt.Format(time.RFC3339))
		case err != nil && !errors.Is(err, interfaces.ErrNotFound):
			return fmt.Errorf("load request: %w", err)
		}
		rules, err := s.rules(ctx, inst.SpaceID)
		if err != nil {
			return err
		}
		if _, err := s.quota.TryConsume(ctx, tx, by, inst.SpaceID, now, rules.WeeklyForgivenessTokens); err != nil {
			return err
		}
		forgiven, err = s.lifecycle.ForgiveTx(ctx, tx, inst, tasks.MechanismPersonal, &outbox)
		return err
	})
	if err != nil {
		return models.TaskInstance{}, err
	}
	outbox.Flush(ctx, s.publisher, s.logger)
	return forgiven, nil
}

// RequestGroupForgiveness opens the one and only vote for a missed instance.
func (s *Service) RequestGroupForgiveness(ctx context.Context, instanceID, by string) (models.ForgivenessRequest, error) {
	var req models.ForgivenessRequest
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		inst, err := s.lifecycle.LoadForUpdate(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if inst.UserID != by {
			return errs.New(errs.NotAuthorized, "task %s belongs to another member", instanceID)
		}
		if inst.Status != models.StatusMissed {
			return errs.New(errs.InvalidState, "task %s is not missed (%s)", instanceID, inst.Status)
		}
		rules, err := s.rules(ctx, inst.SpaceID)
		if err != nil {
			return err
		}
		if !rules.GroupVoteEnabled {
			return errs.New(errs.InvalidState, "group vote is not enabled in space %s", inst.SpaceID)
		}
		req = models.ForgivenessRequest{
			ID:             uuid.New().String(),
			TaskInstanceID: inst.ID,
			RequestedByID:  by,
			Status:         models.RequestPending,
			ExpiresAt:      now.Add(s.VoteWindow),
			CreatedAt:      now,
		}
		err = tx.CreateRequest(ctx, req)
		if errors.Is(err, interfaces.ErrConflict) {
			return errs.New(errs.AlreadyExists, "a forgiveness request already exists for task %s", instanceID)
		}
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.ForgivenessRequest{}, err
	}
	return req, nil
}

// Tally is the state of a vote after a ballot was recorded.
type Tally struct {
	RequestID    string               `json:"request_id"`
	Status       models.RequestStatus `json:"status"`
	Approve      int                  `json:"approve"`
	Reject       int                  `json:"reject"`
	Eligible     int                  `json:"eligible"`
	ApproveRatio decimal.Decimal      `json:"approve_ratio"`
}

// Vote records or replaces voter's ballot and re-tallies. Crossing the
// threshold approves the request and forgives the task in the same
// transaction, so only one ballot can ever trigger the refund.
func (s *Service) Vote(ctx context.Context, requestID, voter string, choice models.VoteChoice) (Tally, error) {
	if choice != models.VoteApprove && choice != models.VoteReject {
		return Tally{}, errs.New(errs.InvalidInput, "vote must be APPROVE or REJECT")
	}
	var outbox events.Outbox
	var tally Tally
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return errs.New(errs.NotFound, "forgiveness request %s not found", requestID)
		}
		if err != nil {
			return fmt.Errorf("load request: %w", err)
		}
		if req.Status != models.RequestPending {
			return errs.New(errs.InvalidState, "request is no longer pending (%s)", req.Status)
		}
		if !now.Before(req.ExpiresAt) {
			return errs.New(errs.Expired, "voting closed at %s", req.ExpiresAt.Format(time.RFC3339))
		}
		if voter == req.RequestedByID {
			return errs.New(errs.NotAuthorized, "cannot vote on your own request")
		}
		inst, err := s.lifecycle.LoadForUpdate(ctx, tx, req.TaskInstanceID)
		if err != nil {
			return err
		}
		member, err := s.directory.IsMember(ctx, voter, inst.SpaceID)
		if err != nil {
			return fmt.Errorf("membership lookup: %w", err)
		}
		if !member {
			return errs.New(errs.NotAuthorized, "not a member of space %s", inst.SpaceID)
		}

		if err := tx.UpsertVote(ctx, models.ForgivenessVote{RequestID: req.ID, UserID: voter, Vote: choice, UpdatedAt: now}); err != nil {
			return fmt.Errorf("save vote: %w", err)
		}
		tally, err = s.tally(ctx, tx, req, inst.SpaceID)
		if err != nil {
			return err
		}

		threshold := defaultThresholdPercent
		if rules, err := s.directory.GetRules(ctx, inst.SpaceID); err == nil {
			threshold = rules.VoteThresholdPercent
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("rules lookup: %w", err)
		}
		if !thresholdReached(tally.Approve, tally.Eligible, threshold) {
			return nil
		}

		if err := tx.UpdateRequestStatus(ctx, req.ID, models.RequestApproved); err != nil {
			return fmt.Errorf("approve request: %w", err)
		}
		if _, err := s.lifecycle.ForgiveTx(ctx, tx, inst, tasks.MechanismGroup, &outbox); err != nil {
			return err
		}
		tally.Status = models.RequestApproved
		outbox.Add(taskevents.TopicForgivenessApproved, taskevents.ForgivenessApproved{
			RequestID:      req.ID,
			TaskInstanceID: inst.ID,
			SpaceID:        inst.SpaceID,
			ApproveVotes:   tally.Approve,
			EligibleVoters: tally.Eligible,
			OccurredAt:     now,
		})
		return nil
	})
	if err != nil {
		return Tally{}, err
	}
	outbox.Flush(ctx, s.publisher, s.logger)
	return tally, nil
}

// tally counts current ballots of eligible voters: members of the space
// other than the requester.
func (s *Service) tally(ctx context.Context, tx interfaces.Tx, req models.ForgivenessRequest, spaceID string) (Tally, error) {
	members, err := s.directory.ListMembers(ctx, spaceID)
	if err != nil {
		return Tally{}, fmt.Errorf("list members: %w", err)
	}
	eligible := make(map[string]bool, len(members))
	for _, m := range members {
		if m != req.RequestedByID {
			eligible[m] = true
		}
	}
	votes, err := tx.ListVotes(ctx, req.ID)
	if err != nil {
		return Tally{}, fmt.Errorf("list votes: %w", err)
	}

	t := Tally{RequestID: req.ID, Status: req.Status, Eligible: len(eligible), ApproveRatio: decimal.Zero}
	for _, v := range votes {
		if !eligible[v.UserID] {
			continue
		}
		switch v.Vote {
		case models.VoteApprove:
			t.Approve++
		case models.VoteReject:
			t.Reject++
		}
	}
	if t.Eligible > 0 {
		t.ApproveRatio = decimal.NewFromInt(int64(t.Approve)).DivRound(decimal.NewFromInt(int64(t.Eligible)), 4)
	}
	return t, nil
}

// thresholdReached compares approve/eligible with percent/100 exactly.
// Zero eligible voters never approve.
func thresholdReached(approve, eligible, percent int) bool {
	if eligible <= 0 {
		return false
	}
	return approve*100 >= percent*eligible
}

// ExpireRequests closes every pending vote whose window has passed. Task
// instances are left untouched.
func (s *Service) ExpireRequests(ctx context.Context) ([]models.ForgivenessRequest, error) {
	var expired []models.ForgivenessRequest
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		expired, err = tx.ExpireRequests(ctx, now)
		return err
	})
	return expired, err
}

func (s *Service) GetRequest(ctx context.Context, requestID string) (models.ForgivenessRequest, error) {
	var req models.ForgivenessRequest
	err := s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, requestID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return errs.New(errs.NotFound, "forgiveness request %s not found", requestID)
		}
		return err
	})
	return req, err
}

// PendingRequests lists the votes still open in a space, soonest to close
// first.
func (s *Service) PendingRequests(ctx context.Context, spaceID, viewer string) ([]models.ForgivenessRequest, error) {
	member, err := s.directory.IsMember(ctx, viewer, spaceID)
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return nil, errs.New(errs.NotAuthorized, "not a member of space %s", spaceID)
	}
	var out []models.ForgivenessRequest
	now := s.clock.Now()
	err = s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		out, err = tx.ListPendingRequests(ctx, spaceID, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return out, nil
}

// QuotaStatus reports tokens used this week against the space allowance.
func (s *Service) QuotaStatus(ctx context.Context, userID, spaceID string) (used, limit int, err error) {
	rules, err := s.rules(ctx, spaceID)
	if err != nil {
		return 0, 0, err
	}
	now := s.clock.Now()
	err = s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		used, err = s.quota.Used(ctx, tx, userID, spaceID, now)
		return err
	})
	return used, rules.WeeklyForgivenessTokens, err
}

func (s *Service) rules(ctx context.Context, spaceID string) (models.SpaceRules, error) {
	rules, err := s.directory.GetRules(ctx, spaceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return rules, errs.New(errs.NotFound, "space %s has no rules", spaceID)
	}
	if err != nil {
		return rules, fmt.Errorf("rules lookup: %w", err)
	}
	return rules, nil
}
