package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

func TestStateTracker_Lifecycle(t *testing.T) {
	st := NewStateTracker(nil)
	assert.Equal(t, types.JobStateStopped, st.GetStateSnapshot().State)

	st.StartRun("run-1", 2)
	st.PlacementDone("run-1", "B1", "C1", "N1", 1)
	st.PlacementFailed("run-1", "B1", "R1", PlacementDeferred, 1, errors.New("clogged"))
	// 迟到的较小计数不会让进度回退
	st.PlacementDone("run-1", "B1", "R1", "N2", 2)
	st.PlacementDone("run-1", "B1", "X1", "N2", 1)
	// 已成功的贴装点不会被覆盖为失败
	st.PlacementFailed("run-1", "B1", "C1", PlacementSkipped, 3, errors.New("late"))

	snap := st.GetStateSnapshot()
	assert.Equal(t, 2, snap.Dispensed)
	assert.Equal(t, PlacementDispensed, snap.Placements["B1/C1"].Status)
	assert.Equal(t, PlacementDispensed, snap.Placements["B1/R1"].Status)

	// 快照是深拷贝
	snap.Placements["B1/C1"] = PlacementState{Status: "MUTATED"}
	assert.Equal(t, PlacementDispensed, st.GetStateSnapshot().Placements["B1/C1"].Status)

	// 新运行重置快照
	st.StartRun("run-2", 5)
	snap = st.GetStateSnapshot()
	assert.Equal(t, "run-2", snap.RunID)
	assert.Empty(t, snap.Placements)
	assert.Equal(t, 0, snap.Dispensed)
	assert.Empty(t, snap.LastError)
}

func TestHub_BroadcastWithoutRunDoesNotBlock(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.BroadcastState(map[string]int{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastState blocked")
	}
}

func TestHub_ServeWs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	st := NewStateTracker(hub)
	hub.SetGreeting(func() interface{} { return st.GetStateSnapshot() })
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap JobSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, types.JobStateStopped, snap.State)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	st.StartRun("run-1", 4)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 4, snap.Total)
}

func TestHub_ConnectionsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	// 已有连接被 Hub 关闭，读取循环不能卡在注销通道上
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "existing connection was not closed")

	// Hub 停止后的新连接应被立即关闭，而不是挂起在注册通道上
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	require.Error(t, err)
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "late connection was left open")
	assert.Zero(t, hub.ClientCount())
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.ServeWs)
}
