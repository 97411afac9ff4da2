package motion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
)

// RemoteMachine 代表一个通过 HTTP 调用的远程运动控制器
// 它实现了 Machine 接口，使得引擎层可以像对待本地模拟机一样对待它
type RemoteMachine struct {
	Endpoint  string       // 远程服务的地址 (e.g., http://localhost:9090)
	Client    *http.Client // HTTP 客户端
	headID    string
	nozzleIDs []string
	logger    *slog.Logger
}

// NewRemoteMachine 创建一个新的远程机器实例
func NewRemoteMachine(endpoint, headID string, nozzleIDs []string, logger *slog.Logger) *RemoteMachine {
	return &RemoteMachine{
		Endpoint:  endpoint,
		Client:    &http.Client{Timeout: 30 * time.Second},
		headID:    headID,
		nozzleIDs: nozzleIDs,
		logger:    logger.With("head_id", headID, "remote", true),
	}
}

func (m *RemoteMachine) ID() string { return m.Endpoint }

// DefaultHead 返回远程运动头的客户端
func (m *RemoteMachine) DefaultHead() (Head, error) {
	if m.headID == "" {
		return nil, fmt.Errorf("remote machine %s: no head configured", m.Endpoint)
	}
	h := &remoteHead{m: m, id: m.headID}
	for _, id := range m.nozzleIDs {
		h.nozzles = append(h.nozzles, &remoteNozzle{m: m, id: id})
	}
	return h, nil
}

// moveRequest 定义了发送到远程服务的运动请求体
type moveRequest struct {
	types.Location
	SafeZ bool `json:"safe_z,omitempty"` // true 表示在安全高度接近目标
}

// remoteResponse 定义了从远程服务接收的响应体
type remoteResponse struct {
	Success  bool           `json:"success"`
	Location types.Location `json:"location"`
	Error    string         `json:"error,omitempty"`
}

func (m *RemoteMachine) call(ctx context.Context, method, path string, body interface{}) (types.Location, error) {
	logger := m.logger
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		logger = logger.With("trace_id", traceID)
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return types.Location{}, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, m.Endpoint+path, reader)
	if err != nil {
		return types.Location{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		httpReq.Header.Set(util.TraceHeader, traceID)
	}

	resp, err := m.Client.Do(httpReq)
	if err != nil {
		logger.Error("远程调用失败", "error", err, "path", path)
		return types.Location{}, fmt.Errorf("远程调用失败: %w", err)
	}
	defer resp.Body.Close()

	var rResp remoteResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&rResp)

	if resp.StatusCode != http.StatusOK {
		logger.Error("远程服务返回错误状态", "status", resp.Status, "path", path, "remote_error", rResp.Error)
		if rResp.Error != "" {
			return types.Location{}, fmt.Errorf("远程服务错误: %s: %s", resp.Status, rResp.Error)
		}
		return types.Location{}, fmt.Errorf("远程服务错误: %s", resp.Status)
	}
	if decodeErr != nil {
		return types.Location{}, fmt.Errorf("解析响应失败: %w", decodeErr)
	}
	if !rResp.Success {
		logger.Warn("远程运动失败", "remote_error", rResp.Error, "path", path)
		return types.Location{}, fmt.Errorf("远程运动失败: %s", rResp.Error)
	}
	return rResp.Location, nil
}

type remoteHead struct {
	m       *RemoteMachine
	id      string
	nozzles []Nozzle
}

func (h *remoteHead) ID() string        { return h.id }
func (h *remoteHead) Nozzles() []Nozzle { return h.nozzles }

func (h *remoteHead) MoveToSafeZ(ctx context.Context) error {
	_, err := h.m.call(ctx, http.MethodPost, "/heads/"+url.PathEscape(h.id)+"/safe-z", nil)
	return err
}

func (h *remoteHead) Park(ctx context.Context) error {
	_, err := h.m.call(ctx, http.MethodPost, "/heads/"+url.PathEscape(h.id)+"/park", nil)
	return err
}

type remoteNozzle struct {
	m  *RemoteMachine
	id string
}

func (n *remoteNozzle) ID() string { return n.id }

func (n *remoteNozzle) path(suffix string) string {
	return "/nozzles/" + url.PathEscape(n.id) + suffix
}

func (n *remoteNozzle) Location(ctx context.Context) (types.Location, error) {
	return n.m.call(ctx, http.MethodGet, n.path("/location"), nil)
}

func (n *remoteNozzle) MoveTo(ctx context.Context, loc types.Location) error {
	_, err := n.m.call(ctx, http.MethodPost, n.path("/move"), moveRequest{Location: loc})
	return err
}

func (n *remoteNozzle) MoveToLocationAtSafeZ(ctx context.Context, loc types.Location) error {
	_, err := n.m.call(ctx, http.MethodPost, n.path("/move"), moveRequest{Location: loc, SafeZ: true})
	return err
}

func (n *remoteNozzle) MoveToSafeZ(ctx context.Context) error {
	_, err := n.m.call(ctx, http.MethodPost, n.path("/safe-z"), nil)
	return err
}
