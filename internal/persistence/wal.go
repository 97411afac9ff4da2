package persistence

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// 日志类型
const (
	EntryRunStarted  = "RUN_STARTED"
	EntryDispensed   = "DISPENSED"
	EntryRunFinished = "RUN_FINISHED"
)

// LogEntry 代表 WAL 文件中的一条日志记录
type LogEntry struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Job         string    `json:"job,omitempty"`
	BoardID     string    `json:"board_id,omitempty"`
	PlacementID string    `json:"placement_id,omitempty"`
	At          time.Time `json:"at"`
}

// Placed 记录每块板卡实例上已点胶的贴装点: BoardID -> PlacementID -> true
type Placed map[string]map[string]bool

// WAL (Write-Ahead Log) 记录点胶进度，机器崩溃后用于恢复已点胶标记，避免重复点胶
type WAL struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// NewWAL 创建或打开一个 WAL 文件
func NewWAL(path string) (*WAL, error) {
	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建, O_RDWR: 读写模式
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// RunStarted 记录一次运行开始
func (w *WAL) RunStarted(runID, job string) error {
	return w.append(LogEntry{Type: EntryRunStarted, RunID: runID, Job: job})
}

// Dispensed 记录一个贴装点点胶完成
func (w *WAL) Dispensed(runID, boardID, placementID string) error {
	return w.append(LogEntry{Type: EntryDispensed, RunID: runID, BoardID: boardID, PlacementID: placementID})
}

// RunFinished 标记一次运行正常完成
func (w *WAL) RunFinished(runID string) error {
	return w.append(LogEntry{Type: EntryRunFinished, RunID: runID})
}

func (w *WAL) append(entry LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// 写入数据并在末尾添加换行符
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	// 确保数据被刷新到磁盘，防止数据丢失
	return w.file.Sync()
}

// Recover 返回自最近一次 RUN_FINISHED 之后、同一任务所有未完成运行中已点胶的贴装点
// 连续多次崩溃时，早先运行的记录依然有效；只有 RUN_FINISHED 或换了任务才会清空
// 在任务开始前调用；如果最近一次运行已完成，返回空结果
func (w *WAL) Recover() (string, Placed, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 将文件指针移动到开头以进行读取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return "", nil, err
	}

	var job string
	placed := make(Placed)
	open := make(map[string]bool) // 已开始且未完成的运行

	scanner := bufio.NewScanner(w.file)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// 忽略损坏的行
			continue
		}

		switch entry.Type {
		case EntryRunStarted:
			if entry.Job != job {
				placed = make(Placed)
				open = make(map[string]bool)
			}
			job = entry.Job
			open[entry.RunID] = true
		case EntryDispensed:
			if !open[entry.RunID] {
				continue
			}
			if placed[entry.BoardID] == nil {
				placed[entry.BoardID] = make(map[string]bool)
			}
			placed[entry.BoardID][entry.PlacementID] = true
		case EntryRunFinished:
			if !open[entry.RunID] {
				continue
			}
			job = ""
			placed = make(Placed)
			open = make(map[string]bool)
		}
	}

	if err := scanner.Err(); err != nil {
		return "", nil, err
	}

	// 恢复文件指针到末尾，以便后续追加写入
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return "", nil, err
	}

	if len(placed) == 0 {
		return "", Placed{}, nil
	}
	return job, placed, nil
}

// Close 关闭 WAL 文件
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
