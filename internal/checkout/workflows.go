package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/storefront/internal/api"
)

const (
	taskQueue               = "checkout-task-queue"
	submitWorkflowName      = "checkout.submit.order"
	createOrderActivityName = "checkout.create.order"
)

// SubmitInput is the workflow argument. SealedToken is the caller's bearer
// token encrypted with a TokenSealer; the worker opens it to authenticate
// the activity's API call.
type SubmitInput struct {
	SubmissionID string                 `json:"submission_id"`
	SealedToken  []byte                 `json:"sealed_token,omitempty"`
	Request      api.CreateOrderRequest `json:"request"`
}

// Activities hosts the order-creation activity.
type Activities struct {
	clientFor func(token string) OrderCreator
	sealer    *TokenSealer
	logger    *slog.Logger
}

// NewActivities builds activities that call the API at baseURL with a fresh
// client per submission, carrying that submission's token.
func NewActivities(baseURL string, timeout time.Duration, sealer *TokenSealer, logger *slog.Logger) *Activities {
	return &Activities{
		clientFor: func(token string) OrderCreator {
			tokens := &api.MemoryTokenStore{}
			_ = tokens.SetToken(context.Background(), token)
			return api.NewClient(baseURL,
				api.WithTimeout(timeout),
				api.WithTokenStore(tokens),
				api.WithLogger(logger.With("component", "checkout.api")),
			)
		},
		sealer: sealer,
		logger: logger,
	}
}

// CreateOrderActivity performs the single POST /orders call.
func (a *Activities) CreateOrderActivity(ctx context.Context, input SubmitInput) (api.Order, error) {
	token, err := a.sealer.Open(input.SealedToken, input.SubmissionID)
	if err != nil {
		a.logger.Error("activity token rejected", "submission_id", input.SubmissionID, "error", err)
		return api.Order{}, temporal.NewNonRetryableApplicationError(err.Error(), "sealed_token", nil)
	}
	order, err := a.clientFor(token).CreateOrder(ctx, input.Request)
	if err != nil {
		a.logger.Error("activity create order failed", "submission_id", input.SubmissionID, "error", err)
		return api.Order{}, temporal.NewNonRetryableApplicationError(err.Error(), errorType(err), nil)
	}
	a.logger.Info("activity create order", "submission_id", input.SubmissionID, "order_id", order.ID)
	return order, nil
}

func errorType(err error) string {
	if kind := api.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}

// SubmitOrderWorkflow runs the order-creation activity exactly once. A
// second attempt could create a duplicate order, so there are no retries.
func SubmitOrderWorkflow(ctx workflow.Context, input SubmitInput) (api.Order, error) {
	logger := workflow.GetLogger(ctx)
	if input.SubmissionID == "" {
		return api.Order{}, errors.New("submission_id required")
	}
	if len(input.Request.Items) == 0 {
		return api.Order{}, temporal.NewNonRetryableApplicationError("order has no items", "empty_order", nil)
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	logger.Info("submit order workflow started", "submission_id", input.SubmissionID, "items", len(input.Request.Items))
	var order api.Order
	if err := workflow.ExecuteActivity(ctx, createOrderActivityName, input).Get(ctx, &order); err != nil {
		logger.Error("create order activity failed", "error", err)
		return api.Order{}, err
	}
	logger.Info("submit order workflow finished", "submission_id", input.SubmissionID, "order_id", order.ID)
	return order, nil
}

// RegisterWorker wires up the Temporal worker consuming the checkout queue.
func RegisterWorker(c client.Client, activities *Activities) temporalworker.Worker {
	w := temporalworker.New(c, taskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(SubmitOrderWorkflow, workflow.RegisterOptions{Name: submitWorkflowName})
	w.RegisterActivityWithOptions(activities.CreateOrderActivity, activity.RegisterOptions{Name: createOrderActivityName})
	return w
}

// TaskQueue exposes the queue name for the worker binary's logs.
func TaskQueue() string {
	return taskQueue
}

type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalSubmitter runs each submission as a workflow whose ID is derived
// from the submission ID; starting the same submission twice is rejected by
// the server.
type TemporalSubmitter struct {
	client         workflowStarter
	tokens         api.TokenStore
	sealer         *TokenSealer
	onUnauthorized func()
	logger         *slog.Logger
}

type TemporalOption func(*TemporalSubmitter)

// OnUnauthorized is called after a 401 from the worker's API call has
// cleared the stored token, the same hook api.WithUnauthorizedHandler takes.
func OnUnauthorized(fn func()) TemporalOption {
	return func(s *TemporalSubmitter) {
		s.onUnauthorized = fn
	}
}

func NewTemporalSubmitter(c client.Client, tokens api.TokenStore, sealer *TokenSealer, logger *slog.Logger, opts ...TemporalOption) *TemporalSubmitter {
	s := &TemporalSubmitter{client: c, tokens: tokens, sealer: sealer, logger: logger.With("component", "checkout.temporal")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func workflowID(submissionID string) string {
	return "checkout-" + submissionID
}

func (s *TemporalSubmitter) SubmitOrder(ctx context.Context, submissionID string, req api.CreateOrderRequest) (api.Order, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return api.Order{}, fmt.Errorf("read auth token: %w", err)
	}
	sealed, err := s.sealer.Seal(token, submissionID)
	if err != nil {
		return api.Order{}, err
	}
	options := client.StartWorkflowOptions{
		ID:                       workflowID(submissionID),
		TaskQueue:                taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionTimeout: 5 * time.Minute,
	}
	we, err := s.client.ExecuteWorkflow(ctx, options, submitWorkflowName, SubmitInput{
		SubmissionID: submissionID,
		SealedToken:  sealed,
		Request:      req,
	})
	if err != nil {
		s.logger.Error("start workflow failed", "submission_id", submissionID, "error", err)
		return api.Order{}, fmt.Errorf("start order workflow: %w", err)
	}
	var order api.Order
	if err := we.Get(ctx, &order); err != nil {
		s.logger.Error("wait workflow failed", "workflow_id", we.GetID(), "error", err)
		err = workflowError(err)
		if errors.Is(err, api.ErrUnauthorized) {
			if clearErr := s.tokens.ClearToken(context.WithoutCancel(ctx)); clearErr != nil {
				s.logger.Error("clear auth token", "error", clearErr)
			}
			if s.onUnauthorized != nil {
				s.onUnauthorized()
			}
		}
		return api.Order{}, err
	}
	s.logger.Info("workflow completed", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "order_id", order.ID)
	return order, nil
}

// workflowError restores the API error kind carried by the activity failure.
func workflowError(err error) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		kind := api.Kind(appErr.Type())
		switch kind {
		case api.KindTransport, api.KindUnauthorized, api.KindForbidden, api.KindNotFound,
			api.KindClient, api.KindServer, api.KindDecode:
			return &api.Error{Kind: kind, Op: "create order", Message: appErr.Error(), Err: err}
		}
	}
	return fmt.Errorf("order workflow: %w", err)
}
