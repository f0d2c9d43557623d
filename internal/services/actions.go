package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// ActionRequest carries everything a terminal action handler may need.
type ActionRequest struct {
	ActionID   string
	User       *models.User
	Session    *models.Session
	Service    *models.Service
	Input      string
	OptionText string
}

// ActionResult is a successful action outcome: the text rendered to the
// handset (END-prefixed by the engine) and data merged into the session bag.
type ActionResult struct {
	Text string
	Data map[string]string
}

// ActionResolver executes terminal business actions. The engine consumes
// this interface; production deployments plug in their own resolver.
type ActionResolver interface {
	Resolve(ctx context.Context, req ActionRequest) (ActionResult, error)
}

// ActionFunc adapts a function to an action handler.
type ActionFunc func(ctx context.Context, req ActionRequest) (ActionResult, error)

// ActionRegistry maps action ids to handlers.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

var _ ActionResolver = (*ActionRegistry)(nil)

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionFunc)}
}

// Register adds or replaces a handler.
func (r *ActionRegistry) Register(actionID string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionID] = fn
}

// Resolve dispatches to the registered handler.
func (r *ActionRegistry) Resolve(ctx context.Context, req ActionRequest) (ActionResult, error) {
	r.mu.RLock()
	fn, ok := r.handlers[req.ActionID]
	r.mu.RUnlock()
	if !ok {
		return ActionResult{}, fmt.Errorf("unknown action %q", req.ActionID)
	}
	return fn(ctx, req)
}

// ActionIDs returns the registered id set, used by the menu catalog to
// validate graphs at load time.
func (r *ActionRegistry) ActionIDs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]bool, len(r.handlers))
	for id := range r.handlers {
		ids[id] = true
	}
	return ids
}

// Builtin demo action ids.
const (
	ActionBalanceInquiry   = "balance_inquiry"
	ActionSubscribeService = "subscribe_service"
	ActionOrderStatus      = "order_status"
	ActionSurveyResponse   = "survey_response"
)

// NewDefaultActions builds the registry of built-in demo actions.
func NewDefaultActions(store storage.Store) *ActionRegistry {
	r := NewActionRegistry()

	r.Register(ActionBalanceInquiry, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		// A real deployment resolves the balance from a billing system.
		return ActionResult{
			Text: "Your balance is 10000 FCFA",
			Data: map[string]string{"last_balance_check": time.Now().Format(time.RFC3339)},
		}, nil
	})

	r.Register(ActionSubscribeService, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		sub := &models.Subscription{
			UserID:    req.User.ID,
			ServiceID: req.Service.ID,
			IsActive:  true,
		}
		if err := store.CreateSubscription(ctx, sub); err != nil {
			return ActionResult{}, fmt.Errorf("subscribe %s: %w", req.Service.Code, err)
		}
		name := req.OptionText
		if name == "" {
			name = req.Service.Name
		}
		return ActionResult{
			Text: fmt.Sprintf("You are now subscribed to %s. Thank you!", name),
			Data: map[string]string{
				"subscribed_service": name,
				"subscription_date":  time.Now().Format(time.RFC3339),
			},
		}, nil
	})

	r.Register(ActionOrderStatus, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		return ActionResult{
			Text: fmt.Sprintf("Your order %s is out for delivery.", req.OptionText),
			Data: map[string]string{
				"tracked_order": req.OptionText,
				"tracking_date": time.Now().Format(time.RFC3339),
			},
		}, nil
	})

	r.Register(ActionSurveyResponse, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		resp := &models.SurveyResponse{
			UserID:        req.User.ID,
			SurveyID:      "satisfaction_survey",
			QuestionID:    "general_satisfaction",
			ResponseValue: req.OptionText,
		}
		if err := store.CreateSurveyResponse(ctx, resp); err != nil {
			return ActionResult{}, fmt.Errorf("record survey response: %w", err)
		}
		return ActionResult{
			Text: "Thank you for participating in our survey!",
			Data: map[string]string{"survey_response": req.OptionText},
		}, nil
	})

	return r
}
