package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/doyein2020/gats-ussd/internal/menu"
	"github.com/doyein2020/gats-ussd/internal/metrics"
	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// User-facing texts. The gateway relays these verbatim to the handset.
const (
	msgServiceUnavailable = "Sorry, this service is not available."
	msgSessionExpired     = "Your session has expired. Please dial again."
	msgActionFailed       = "Sorry, something went wrong. Please try again."
	msgTransientError     = "Service temporarily unavailable. Please try again."
	msgGenericError       = "An error occurred. Please try again."
	msgTooManyInvalid     = "Too many invalid choices. Session ended."

	hintInvalidChoice = "Invalid choice. Try again."
	hintSubscription  = "This option requires an active subscription."
)

// Request is one inbound gateway interaction.
type Request struct {
	SessionID   string
	PhoneNumber string
	ServiceCode string
	Text        string
}

// Reply is the rendered response, already CON/END prefixed.
type Reply struct {
	Text string
	End  bool
}

func conReply(body string) Reply { return Reply{Text: "CON " + body} }
func endReply(body string) Reply { return Reply{Text: "END " + body, End: true} }

// Engine advances USSD dialogs. One call per gateway interaction; the call
// never fails outward: every fault degrades to a well-formed END reply and
// an error-flagged log entry.
type Engine struct {
	store   storage.Store
	catalog *menu.Catalog
	actions ActionResolver
	logger  *InteractionLogger
	locks   *sessionLocks

	maxInvalid   int
	storeTimeout time.Duration
}

// NewEngine wires the session engine.
func NewEngine(store storage.Store, catalog *menu.Catalog, actions ActionResolver, logger *InteractionLogger, maxInvalid int, storeTimeout time.Duration) *Engine {
	if maxInvalid <= 0 {
		maxInvalid = 3
	}
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	return &Engine{
		store:        store,
		catalog:      catalog,
		actions:      actions,
		logger:       logger,
		locks:        newSessionLocks(),
		maxInvalid:   maxInvalid,
		storeTimeout: storeTimeout,
	}
}

// turnState accumulates what one interaction learned, for the log entry
// emitted when the call unwinds.
type turnState struct {
	req       Request
	user      *models.User
	session   *models.Session
	created   bool
	menuLevel string
	replayed  bool
	isError   bool
	errMsg    string
}

func (st *turnState) fail(msg string) {
	st.isError = true
	if st.errMsg == "" {
		st.errMsg = msg
	}
}

// HandleInteraction processes one gateway turn. It always returns a
// well-formed reply; faults are absorbed here.
func (e *Engine) HandleInteraction(ctx context.Context, req Request) (reply Reply) {
	start := time.Now()

	unlock := e.locks.acquire(req.SessionID)
	defer unlock()

	st := &turnState{req: req, menuLevel: "error"}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ panic handling session %s: %v", req.SessionID, r)
			st.fail(fmt.Sprintf("panic: %v", r))
			reply = endReply(msgGenericError)
		}

		elapsed := time.Since(start)
		metrics.ResponseSeconds.Observe(elapsed.Seconds())
		switch {
		case st.isError:
			metrics.RequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		case reply.End:
			metrics.RequestsTotal.WithLabelValues(metrics.OutcomeEnd).Inc()
		default:
			metrics.RequestsTotal.WithLabelValues(metrics.OutcomeContinue).Inc()
		}

		// A recognized retransmission is answered from the stored prior
		// turn and does not emit a second audit entry.
		if !st.replayed {
			e.emitLog(st, reply, elapsed)
		}
	}()

	return e.process(ctx, st)
}

func (e *Engine) process(ctx context.Context, st *turnState) Reply {
	req := st.req

	// 1. Resolve the user (create on first contact).
	var user *models.User
	err := e.withStore(ctx, func(cctx context.Context) error {
		var err error
		user, err = e.store.GetOrCreateUser(cctx, req.PhoneNumber)
		return err
	})
	if err != nil {
		st.fail(fmt.Sprintf("resolve user: %v", err))
		return endReply(msgTransientError)
	}
	st.user = user

	// 2. Resolve the service definition and its menu graph.
	var service *models.Service
	var graph *menu.Graph
	err = e.withStore(ctx, func(cctx context.Context) error {
		var err error
		service, graph, err = e.catalog.Resolve(cctx, req.ServiceCode)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrServiceNotFound), errors.Is(err, storage.ErrServiceInactive):
		st.fail(fmt.Sprintf("service %s: %v", req.ServiceCode, err))
		return endReply(msgServiceUnavailable)
	case err != nil:
		st.fail(fmt.Sprintf("resolve service %s: %v", req.ServiceCode, err))
		return endReply(msgGenericError)
	}

	// 3. Resolve the session: unseen ids start fresh at the root, seen and
	// active load, seen but ended means the dialog expired.
	session, err := e.resolveSession(ctx, st, graph)
	if err != nil {
		st.fail(fmt.Sprintf("resolve session: %v", err))
		return endReply(msgTransientError)
	}
	st.session = session
	st.menuLevel = session.CurrentMenu

	// Retransmission of the already-applied turn: replay the stored
	// response without a second transition. This covers ended sessions
	// too, so a retried final turn gets its END text back rather than an
	// expiry notice.
	if !st.created && req.Text == session.LastInput && session.LastResponse != "" {
		st.replayed = true
		return Reply{Text: session.LastResponse, End: !session.IsActive}
	}

	if !session.IsActive {
		st.fail("session expired")
		return endReply(msgSessionExpired)
	}

	node, ok := graph.Node(session.CurrentMenu)
	if !ok {
		// The definition was republished under the session; restart at root.
		node = graph.RootNode()
		session.CurrentMenu = graph.Root
		st.menuLevel = graph.Root
	}

	// 4. Empty input renders the current node (root for a fresh dial).
	if req.Text == "" {
		return e.commit(ctx, st, conReply(node.Render()))
	}

	// Only the newest *-delimited segment matters; position comes from the
	// stored current node, never from replaying the accumulated text.
	token := newestToken(req.Text)

	// 5. Match the token against the node's options.
	opt := node.Find(token)
	if opt == nil {
		session.InvalidCount++
		if session.InvalidCount >= e.maxInvalid {
			st.fail(fmt.Sprintf("invalid input limit reached on node %s", node.ID))
			session.End(time.Now(), models.EndReasonError)
			return e.commit(ctx, st, endReply(msgTooManyInvalid))
		}
		return e.commit(ctx, st, conReply(hintInvalidChoice+"\n"+node.Render()))
	}
	session.InvalidCount = 0

	if opt.RequiresSubscription {
		var subscribed bool
		err = e.withStore(ctx, func(cctx context.Context) error {
			var err error
			subscribed, err = e.store.HasActiveSubscription(cctx, user.ID, service.ID)
			return err
		})
		if err != nil {
			st.fail(fmt.Sprintf("check subscription: %v", err))
			return endReply(msgTransientError)
		}
		if !subscribed {
			return e.commit(ctx, st, conReply(hintSubscription+"\n"+node.Render()))
		}
	}

	// Navigation to another node.
	if !opt.IsTerminal() {
		next, _ := graph.Node(opt.Next)
		session.CurrentMenu = opt.Next
		st.menuLevel = opt.Next
		return e.commit(ctx, st, conReply(next.Render()))
	}

	// 6. Terminal action.
	result, err := e.resolveAction(ctx, st, service, opt, token)
	now := time.Now()
	if err != nil {
		// The underlying cause stays server-side.
		st.fail(fmt.Sprintf("action %s: %v", opt.Action, err))
		session.End(now, models.EndReasonError)
		return e.commit(ctx, st, endReply(msgActionFailed))
	}
	for k, v := range result.Data {
		session.SetData(k, v)
	}
	session.End(now, models.EndReasonCompleted)
	return e.commit(ctx, st, endReply(result.Text))
}

func (e *Engine) resolveAction(ctx context.Context, st *turnState, service *models.Service, opt *menu.Option, token string) (ActionResult, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	defer cancel()
	return e.actions.Resolve(actx, ActionRequest{
		ActionID:   opt.Action,
		User:       st.user,
		Session:    st.session,
		Service:    service,
		Input:      token,
		OptionText: opt.Text,
	})
}

// resolveSession loads the session for a seen id or prepares a fresh one
// positioned at the graph root. Fresh sessions are not persisted here; the
// transition commit writes them in a single create.
func (e *Engine) resolveSession(ctx context.Context, st *turnState, graph *menu.Graph) (*models.Session, error) {
	req := st.req

	var session *models.Session
	err := e.withStore(ctx, func(cctx context.Context) error {
		var err error
		session, err = e.store.GetSession(cctx, req.SessionID)
		return err
	})
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, err
	}

	st.created = true
	return &models.Session{
		SessionID:   req.SessionID,
		UserID:      st.user.ID,
		ServiceCode: req.ServiceCode,
		CurrentMenu: graph.Root,
		SessionData: make(map[string]string),
		IsActive:    true,
	}, nil
}

// commit persists the turn, then returns the reply. Store acknowledgement is
// the only proof the transition happened; nothing is returned optimistically.
func (e *Engine) commit(ctx context.Context, st *turnState, reply Reply) Reply {
	session := st.session
	session.LastInput = st.req.Text
	session.LastResponse = reply.Text
	session.Touch(time.Now())

	var err error
	if st.created {
		err = e.withStore(ctx, func(cctx context.Context) error {
			return e.store.CreateSession(cctx, session)
		})
		if errors.Is(err, storage.ErrDuplicateSession) {
			// A concurrent delivery created the session first; answer from
			// the winner's already-computed turn.
			return e.replayFromStore(ctx, st, reply)
		}
		if err == nil {
			metrics.SessionsStarted.Inc()
		}
	} else {
		err = e.withStore(ctx, func(cctx context.Context) error {
			return e.store.UpdateSession(cctx, session)
		})
		if errors.Is(err, storage.ErrVersionConflict) {
			return e.replayFromStore(ctx, st, reply)
		}
	}

	if err != nil {
		st.fail(fmt.Sprintf("persist session: %v", err))
		return endReply(msgTransientError)
	}

	if !session.IsActive {
		metrics.SessionsEnded.WithLabelValues(session.EndReason).Inc()
	}
	return reply
}

// replayFromStore handles losing a write race: if the stored session shows
// this exact delivery already applied, its response is replayed; anything
// else fails closed.
func (e *Engine) replayFromStore(ctx context.Context, st *turnState, computed Reply) Reply {
	var stored *models.Session
	err := e.withStore(ctx, func(cctx context.Context) error {
		var err error
		stored, err = e.store.GetSession(cctx, st.req.SessionID)
		return err
	})
	if err == nil && stored.LastInput == st.req.Text && stored.LastResponse != "" {
		st.replayed = true
		st.session = stored
		return Reply{Text: stored.LastResponse, End: !stored.IsActive}
	}

	st.fail("concurrent session update lost")
	return endReply(msgTransientError)
}

// withStore runs op under the bounded store timeout, detached from the
// request's cancellation so a dropped HTTP connection cannot leave a
// half-applied transition. A timed-out or unavailable store is retried
// exactly once.
func (e *Engine) withStore(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
		defer cancel()
		return op(cctx)
	}

	err := attempt()
	if retryable(err) {
		err = attempt()
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, storage.ErrUnavailable)
}

func (e *Engine) emitLog(st *turnState, reply Reply, elapsed time.Duration) {
	entry := &models.InteractionLog{
		SessionID:      st.req.SessionID,
		InputText:      st.req.Text,
		ResponseText:   reply.Text,
		MenuLevel:      st.menuLevel,
		ResponseTimeMs: elapsed.Milliseconds(),
		IsError:        st.isError,
		ErrorMessage:   st.errMsg,
	}
	if st.user != nil {
		entry.UserID = st.user.ID
	}
	e.logger.Record(entry)
}

// newestToken extracts the latest user-entered segment from the gateway's
// accumulated *-delimited text.
func newestToken(text string) string {
	if idx := strings.LastIndex(text, "*"); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}

// ActiveSessions exposes currently active sessions to the admin surface.
func (e *Engine) ActiveSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := e.withStore(ctx, func(cctx context.Context) error {
		var err error
		sessions, err = e.store.ListActiveSessions(cctx)
		return err
	})
	return sessions, err
}

// RecentLogs exposes the latest interaction log entries.
func (e *Engine) RecentLogs(ctx context.Context, limit int) ([]*models.InteractionLog, error) {
	var logs []*models.InteractionLog
	err := e.withStore(ctx, func(cctx context.Context) error {
		var err error
		logs, err = e.store.RecentLogs(cctx, limit)
		return err
	})
	return logs, err
}

// Stats assembles the aggregate snapshot for the admin surface.
func (e *Engine) Stats(ctx context.Context) (*models.USSDStats, error) {
	stats := &models.USSDStats{}
	err := e.withStore(ctx, func(cctx context.Context) error {
		total, active, err := e.store.CountSessions(cctx)
		if err != nil {
			return err
		}
		stats.TotalSessions = total
		stats.ActiveSessions = active

		interactions, errCount, avgMs, err := e.store.LogStats(cctx)
		if err != nil {
			return err
		}
		stats.TotalInteractions = interactions
		stats.ErrorCount = errCount
		stats.AvgResponseTimeMs = avgMs
		if interactions > 0 {
			stats.ErrorRate = float64(errCount) / float64(interactions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
