package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/antonmedv/expr"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
)

// Hook 在任务成功完成时被调用一次
// 返回错误时整个运行视为失败，即使点胶本身已经成功
type Hook interface {
	JobFinished(ctx context.Context, job *types.Job, summary event.RunSummary) error
}

// Func 把普通函数适配为 Hook
type Func func(ctx context.Context, job *types.Job, summary event.RunSummary) error

func (f Func) JobFinished(ctx context.Context, job *types.Job, summary event.RunSummary) error {
	return f(ctx, job, summary)
}

// Chain 按顺序执行多个 Hook，遇到第一个错误即停止
type Chain []Hook

func (c Chain) JobFinished(ctx context.Context, job *types.Job, summary event.RunSummary) error {
	for _, h := range c {
		if err := h.JobFinished(ctx, job, summary); err != nil {
			return err
		}
	}
	return nil
}

// Rule 使用 expr 表达式对运行结果做验收，例如 `summary.Dispensed == summary.Total`
type Rule struct {
	Expr string
}

func (r Rule) JobFinished(ctx context.Context, job *types.Job, summary event.RunSummary) error {
	if r.Expr == "" {
		return nil
	}
	env := map[string]interface{}{"summary": summary, "job": job}
	program, err := expr.Compile(r.Expr, expr.Env(env))
	if err != nil {
		return fmt.Errorf("rule compilation failed: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("rule execution failed: %w", err)
	}
	accepted, ok := result.(bool)
	if !ok {
		return fmt.Errorf("rule result is not a boolean")
	}
	if !accepted {
		return fmt.Errorf("acceptance rule %q rejected run %s", r.Expr, summary.RunID)
	}
	return nil
}

// Webhook 把运行结果以 JSON POST 到外部地址
type Webhook struct {
	URL    string
	Client *http.Client
	logger *slog.Logger
}

// NewWebhook 创建一个 Webhook
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With("component", "webhook"),
	}
}

type webhookPayload struct {
	Event   string           `json:"event"`
	Job     string           `json:"job"`
	Summary event.RunSummary `json:"summary"`
}

func (w *Webhook) JobFinished(ctx context.Context, job *types.Job, summary event.RunSummary) error {
	body, err := json.Marshal(webhookPayload{Event: "Job.Finished", Job: job.Name, Summary: summary})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		req.Header.Set(util.TraceHeader, traceID)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		w.logger.Error("Webhook 调用失败", "error", err, "url", w.URL)
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %s", w.URL, resp.Status)
	}
	w.logger.Info("Webhook 已通知", "url", w.URL, "run_id", summary.RunID)
	return nil
}
