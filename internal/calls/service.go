package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/push"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Directory is the account lookup the service needs.
type Directory interface {
	FindCaller(ctx context.Context, id string) (directory.Account, error)
	FindCallable(ctx context.Context, t directory.Target) (directory.Account, error)
	Lookup(ctx context.Context, pool directory.Pool, id string) (directory.Account, error)
}

// Issuer mints per-party media and messaging credentials.
type Issuer interface {
	AppID() string
	ForParty(channel, accountID string, role credentials.Role) (credentials.PartyCredentials, error)
}

// Publisher fans a serialized update out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AuditLog records applied transitions. Failures are logged, never returned.
type AuditLog interface {
	LogTransition(ctx context.Context, callID, actorID, actorRole, from, to, message string, metadata map[string]string) error
}

// Observer receives transition counters.
type Observer interface {
	CallTransition(to string)
	TransitionConflict(event string)
}

type Hooks struct {
	Events   Publisher
	Audit    AuditLog
	Observer Observer
}

// Service owns the call session lifecycle.
//
// Invariants:
// - Every status change is planned by Plan and applied by Repository.Transition.
// - Nothing is persisted when credential issuance fails during Initiate.
// - Push delivery is best-effort: a failure is recorded, never fatal.
type Service struct {
	repo     Repository
	dir      Directory
	issuer   Issuer
	dispatch push.Dispatcher
	hooks    Hooks
	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, dir Directory, issuer Issuer, dispatch push.Dispatcher) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		issuer:   issuer,
		dispatch: dispatch,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// WithHooks attaches optional event, audit and metric sinks.
func (s *Service) WithHooks(h Hooks) *Service {
	s.hooks = h
	return s
}

// Initiated is the caller-facing result of Initiate.
type Initiated struct {
	Session              Session
	AppID                string
	Caller               credentials.PartyCredentials
	Callee               directory.Summary
	PushNotificationSent bool
}

// Initiate creates a session from callerID to target, wakes the callee's
// device and moves the session to ringing once the push was accepted.
func (s *Service) Initiate(ctx context.Context, callerID string, target directory.Target) (Initiated, error) {
	caller, err := s.dir.FindCaller(ctx, callerID)
	if err != nil {
		return Initiated{}, err
	}
	callee, err := s.dir.FindCallable(ctx, target)
	if err != nil {
		return Initiated{}, err
	}

	callID := s.newID()
	channel := ChannelFor(callID)

	var callerCreds, calleeCreds credentials.PartyCredentials
	var g errgroup.Group
	g.Go(func() error {
		var err error
		callerCreds, err = s.issuer.ForParty(channel, caller.ID, credentials.RolePublisher)
		return err
	})
	g.Go(func() error {
		var err error
		calleeCreds, err = s.issuer.ForParty(channel, callee.ID, credentials.RolePublisher)
		return err
	})
	if err := g.Wait(); err != nil {
		return Initiated{}, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	now := s.clock().UTC()
	sess := Session{
		CallID:      callID,
		ChannelName: channel,
		Caller:      Party{ID: caller.ID, Name: caller.DisplayName(), Email: caller.Email},
		Callee:      Party{ID: callee.ID, Name: callee.DisplayName(), Email: callee.Email},
		Status:      StatusPending,
		CallerToken: callerCreds.MediaToken,
		CalleeToken: calleeCreds.MediaToken,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return Initiated{}, err
	}
	s.emit(ctx, eventCreate, Actor{ID: caller.ID, Role: RoleCaller}, "", sess)

	msg := push.NewIncomingCall(callee.PushToken, push.IncomingCall{
		CallID:      callID,
		ChannelName: channel,
		Caller:      push.Caller{ID: caller.ID, Name: caller.Name, Email: caller.Email},
		AppID:       calleeCreds.AppID,
		MediaToken:  calleeCreds.MediaToken,
	}, now)
	res, pushErr := s.dispatch.Send(ctx, msg)
	sent := pushErr == nil && res.Accepted

	if sent {
		if rung, err := s.apply(ctx, sess, EventRing, System, nil); err == nil {
			sess = rung
		} else {
			// The callee may already have acted on the session by polling.
			logger.From(ctx).Info("ring skipped", "call_id", callID, "err", err)
		}
	} else {
		logger.From(ctx).Warn("incoming call push failed", "call_id", callID, "err", pushErr)
		if annotated, err := s.annotate(ctx, callID, map[string]string{"pushError": errText(pushErr, res)}); err == nil {
			sess = annotated
		}
	}

	return Initiated{
		Session:              sess.Redacted(),
		AppID:                s.issuer.AppID(),
		Caller:               callerCreds,
		Callee:               callee.Summary(),
		PushNotificationSent: sent,
	}, nil
}

// Accepted carries fresh callee credentials for joining the channel.
type Accepted struct {
	Session     Session
	Credentials credentials.PartyCredentials
}

// Accept moves a pending or ringing call to accepted for its callee. Fresh
// credentials are minted first; if that fails the session is failed.
func (s *Service) Accept(ctx context.Context, actor Actor, callID string) (Accepted, error) {
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Accepted{}, err
	}
	if _, err := Plan(sess, EventAccept, actor, s.clock().UTC(), nil); err != nil {
		return Accepted{}, err
	}

	creds, err := s.issuer.ForParty(sess.ChannelName, actor.ID, credentials.RolePublisher)
	if err != nil {
		if _, failErr := s.Fail(ctx, callID, "credential issuance failed on accept"); failErr != nil {
			logger.From(ctx).Error("fail after issuance error", "call_id", callID, "err", failErr)
		}
		return Accepted{}, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	out, err := s.apply(ctx, sess, EventAccept, actor, nil)
	if err != nil {
		return Accepted{}, err
	}
	return Accepted{Session: out.Redacted(), Credentials: creds}, nil
}

// DefaultRejectReason is recorded when the callee gives none.
const DefaultRejectReason = "declined"

func (s *Service) Reject(ctx context.Context, actor Actor, callID, reason string) (Session, error) {
	if reason == "" {
		reason = DefaultRejectReason
	}
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	out, err := s.apply(ctx, sess, EventReject, actor, map[string]string{"rejectReason": reason})
	if err != nil {
		return Session{}, err
	}
	return out.Redacted(), nil
}

// Miss is the caller giving up on an unanswered call. The callee gets a
// missed-call alert when a device is registered.
func (s *Service) Miss(ctx context.Context, actor Actor, callID string) (Session, error) {
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	out, err := s.apply(ctx, sess, EventMiss, actor, nil)
	if err != nil {
		return Session{}, err
	}

	s.notifyCallee(ctx, out, func(token string, now time.Time) push.Message {
		return push.NewMissedCall(token, out.CallID, push.Caller{ID: out.Caller.ID, Name: out.Caller.Name, Email: out.Caller.Email}, now)
	})
	return out.Redacted(), nil
}

// End closes an accepted call. When the caller hangs up the callee's device is
// told silently so it can tear down the media session.
func (s *Service) End(ctx context.Context, actor Actor, callID string) (Session, error) {
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	out, err := s.apply(ctx, sess, EventEnd, actor, map[string]string{"endedBy": string(actor.Role)})
	if err != nil {
		return Session{}, err
	}

	if actor.Role == RoleCaller {
		s.notifyCallee(ctx, out, func(token string, now time.Time) push.Message {
			return push.NewCallEnded(token, out.CallID, "caller_ended", now)
		})
	}
	return out.Redacted(), nil
}

// Fail moves a non-terminal session to failed and records why.
func (s *Service) Fail(ctx context.Context, callID, reason string) (Session, error) {
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	out, err := s.apply(ctx, sess, EventFail, System, map[string]string{"failureReason": reason})
	if err != nil {
		return Session{}, err
	}
	return out.Redacted(), nil
}

// Get returns the session to one of its parties, without credentials.
func (s *Service) Get(ctx context.Context, actor Actor, callID string) (Session, error) {
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if !IsParty(sess, actor) {
		return Session{}, ErrForbidden
	}
	return sess.Redacted(), nil
}

// History lists the actor's own sessions, newest first.
func (s *Service) History(ctx context.Context, actor Actor, statuses []Status, limit, skip int) (Page, error) {
	if actor.Role != RoleCaller && actor.Role != RoleCallee {
		return Page{}, ErrForbidden
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if skip < 0 {
		return Page{}, fmt.Errorf("%w: skip must not be negative", ErrInvalidArgument)
	}

	items, total, err := s.repo.List(ctx, HistoryQuery{
		Role:     actor.Role,
		PartyID:  actor.ID,
		Statuses: statuses,
		Limit:    limit,
		Skip:     skip,
	})
	if err != nil {
		return Page{}, err
	}
	for i := range items {
		items[i] = items[i].Redacted()
	}
	return Page{Items: items, Total: total, Limit: limit, Skip: skip}, nil
}

// Pending lists calls still waiting on the callee. It is the polling fallback
// for devices that never received the wake-up push.
func (s *Service) Pending(ctx context.Context, actor Actor) ([]Session, error) {
	if actor.Role != RoleCallee {
		return nil, ErrForbidden
	}
	page, err := s.History(ctx, actor, []Status{StatusPending, StatusRinging}, MaxHistoryLimit, 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// apply plans ev against the observed session and commits it with the
// repository's conditional update.
func (s *Service) apply(ctx context.Context, sess Session, ev Event, actor Actor, metadata map[string]string) (Session, error) {
	change, err := Plan(sess, ev, actor, s.clock().UTC(), metadata)
	if err != nil {
		return Session{}, err
	}
	out, prev, err := s.repo.Transition(ctx, sess.CallID, change)
	if errors.Is(err, ErrConflict) {
		if s.hooks.Observer != nil {
			s.hooks.Observer.TransitionConflict(string(ev))
		}
		logger.From(ctx).Info("transition lost race", "call_id", sess.CallID, "event", ev, "status", prev)
		return Session{}, invalidTransition(ev, prev)
	}
	if err != nil {
		return Session{}, err
	}
	s.emit(ctx, ev, actor, prev, out)
	return out, nil
}

func (s *Service) annotate(ctx context.Context, callID string, metadata map[string]string) (Session, error) {
	out, _, err := s.repo.Transition(ctx, callID, annotation(s.clock().UTC(), metadata))
	return out, err
}

func (s *Service) notifyCallee(ctx context.Context, sess Session, build func(token string, now time.Time) push.Message) {
	callee, err := s.dir.Lookup(ctx, directory.PoolCallee, sess.Callee.ID)
	if err != nil || !callee.HasDevice() {
		return
	}
	if _, err := s.dispatch.Send(ctx, build(callee.PushToken, s.clock().UTC())); err != nil {
		logger.From(ctx).Warn("callee notification failed", "call_id", sess.CallID, "err", err)
	}
}

// TopicFor is the event-bus topic carrying updates for one call.
func TopicFor(callID string) string { return "calls:" + callID }

// Update is the payload published after every applied transition.
type Update struct {
	Event   Event   `json:"event"`
	Session Session `json:"session"`
}

func (s *Service) emit(ctx context.Context, ev Event, actor Actor, from Status, sess Session) {
	log := logger.From(ctx)
	log.Info("call transition", "call_id", sess.CallID, "event", ev, "from", from, "to", sess.Status, "actor_role", actor.Role)

	if s.hooks.Observer != nil {
		s.hooks.Observer.CallTransition(string(sess.Status))
	}
	if s.hooks.Audit != nil {
		msg := fmt.Sprintf("%s: %s -> %s", ev, from, sess.Status)
		if err := s.hooks.Audit.LogTransition(ctx, sess.CallID, actor.ID, string(actor.Role), string(from), string(sess.Status), msg, sess.Metadata); err != nil {
			log.Error("audit append failed", "call_id", sess.CallID, "err", err)
		}
	}
	if s.hooks.Events != nil {
		payload, err := json.Marshal(Update{Event: ev, Session: sess.Redacted()})
		if err == nil {
			err = s.hooks.Events.Publish(ctx, TopicFor(sess.CallID), payload)
		}
		if err != nil {
			log.Warn("call update publish failed", "call_id", sess.CallID, "err", err)
		}
	}
}

func errText(err error, res push.Result) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d of %d messages failed", res.Failed, res.Failed+res.Delivered)
}
