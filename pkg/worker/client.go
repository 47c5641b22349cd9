package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/process"
)

const (
	agentPath        = "/ws/agent"
	outgoingCapacity = 100
	closeGrace       = time.Second
)

// ErrAuthRejected 服务端拒绝认证
var ErrAuthRejected = errors.New("认证被拒绝")

// Client WebSocket 客户端
type Client struct {
	config *ClientConfig
	log    *logger.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	stop      chan struct{} // 当前连接的停止信号
	quit      chan struct{} // Disconnect 后关闭
	agentID   string
	agentName string
	status    ClientStatus

	outgoing chan *WorkerMessage
	wg       sync.WaitGroup

	onStatusChange StatusCallback
	onTask         TaskCallback
	onCancel       CancelCallback
	onData         DataCallback
	reportStatus   StatusReporter
}

// NewClient 创建 WebSocket 客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config:   config,
		log:      logger.Default(),
		quit:     make(chan struct{}),
		status:   StatusDisconnected,
		outgoing: make(chan *WorkerMessage, outgoingCapacity),
	}
}

// SetLogger 设置日志器
func (c *Client) SetLogger(l *logger.Logger) {
	if l != nil {
		c.log = l
	}
}

// BuildURL 根据服务端地址构建 WebSocket URL
//   - localhost:3001 → ws://localhost:3001/ws/agent
//   - http://host → ws://host/ws/agent
//   - https://example.com → wss://example.com/ws/agent
//   - example.com → wss://example.com/ws/agent
func BuildURL(serverURL string) string {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")

	switch {
	case strings.HasPrefix(serverURL, "ws://"), strings.HasPrefix(serverURL, "wss://"):
		u, err := url.Parse(serverURL)
		if err != nil {
			return serverURL
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = agentPath
		}
		return u.String()
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + agentPath
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + agentPath
	}

	if isLocalAddress(serverURL) {
		return "ws://" + serverURL + agentPath
	}
	return "wss://" + serverURL + agentPath
}

// isLocalAddress 判断是否为本地地址
func isLocalAddress(addr string) bool {
	host := addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::1"
}

// Connect 连接并完成认证
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	select {
	case <-c.quit:
		c.quit = make(chan struct{})
	default:
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial 建连、认证并启动收发循环
func (c *Client) dial(ctx context.Context) error {
	wsURL := BuildURL(c.config.ServerURL)
	c.log.Info("正在连接 %s", wsURL)
	c.setStatus(StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.log.Error("WebSocket 连接失败: %v", err)
		c.setStatus(StatusDisconnected)
		return errors.Wrap(err, "连接失败")
	}

	resp, err := c.authenticate(conn)
	if err != nil {
		conn.Close()
		c.log.Error("认证失败: %v", err)
		c.setStatus(StatusDisconnected)
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.agentID = resp.AgentID
	c.agentName = resp.AgentName
	c.mu.Unlock()

	c.log.Info("已连接: %s (%s)", resp.AgentName, resp.AgentID)
	c.setStatus(StatusConnected)

	c.wg.Add(3)
	go c.sendLoop(conn, stop)
	go c.receiveLoop(conn, stop)
	go c.heartbeatLoop(stop)

	return nil
}

// authenticate 发送认证消息并等待响应
func (c *Client) authenticate(conn *websocket.Conn) (*ConnectResponse, error) {
	deadline := time.Now().Add(c.handshakeTimeout())

	conn.SetWriteDeadline(deadline)
	err := conn.WriteJSON(&ConnectMessage{
		Type:       "connect",
		AccessKey:  c.config.AccessKey,
		SecretKey:  c.config.SecretKey,
		SystemInfo: GetSystemInfo(),
	})
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return nil, errors.Wrap(err, "发送认证消息失败")
	}

	conn.SetReadDeadline(deadline)
	var resp ConnectResponse
	err = conn.ReadJSON(&resp)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, errors.Wrap(err, "读取认证响应失败")
	}

	if !resp.Success {
		return nil, errors.Wrap(ErrAuthRejected, resp.Message)
	}
	return &resp, nil
}

// sendLoop 唯一的写协程
func (c *Client) sendLoop(conn *websocket.Conn, stop chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stop:
			return
		case msg := <-c.outgoing:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("序列化消息失败: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error("发送消息失败: %v", err)
				// 读循环会感知连接断开并重连
				conn.Close()
				return
			}
		}
	}
}

// receiveLoop 接收消息循环
func (c *Client) receiveLoop(conn *websocket.Conn, stop chan struct{}) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				c.log.Warn("WebSocket 读取失败: %v", err)
				if c.dropConn(conn) {
					c.wg.Add(1)
					go c.reconnect()
				}
			}
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("无法解析服务端消息: %v", err)
			continue
		}
		c.handleServerMessage(&msg)
	}
}

// handleServerMessage 分发服务端消息
func (c *Client) handleServerMessage(msg *ServerMessage) {
	switch {
	case msg.Ping != nil:
		c.handlePing(msg.MessageID, msg.Ping)
	case msg.ExecuteTask != nil:
		c.handleExecuteTask(msg.ExecuteTask)
	case msg.CancelTask != nil:
		c.handleCancelTask(msg.CancelTask)
	case msg.DataRequest != nil:
		c.handleDataRequest(msg.MessageID, msg.DataRequest)
	}
}

func (c *Client) handlePing(msgID string, ping *Ping) {
	c.log.Debug("收到 ping")
	c.Send(&WorkerMessage{
		MessageID: msgID,
		Pong: &Pong{
			ClientTimestamp: nowMillis(),
			ServerTimestamp: ping.Timestamp,
		},
	})
}

func (c *Client) handleExecuteTask(task *ExecuteTask) {
	c.log.Info("收到任务: %s (%s)", task.TaskID, task.TaskType)

	c.mu.RLock()
	callback := c.onTask
	c.mu.RUnlock()

	if callback != nil {
		callback(task.TaskID, task.TaskType, task.PayloadJSON)
	}
}

// handleCancelTask 取消任务并回执 CANCELLED
func (c *Client) handleCancelTask(cmd *CancelTask) {
	c.log.Info("收到取消任务: %s, 原因: %s", cmd.TaskID, cmd.Reason)

	c.mu.RLock()
	callback := c.onCancel
	c.mu.RUnlock()

	cancelled := false
	if callback != nil {
		cancelled = callback(cmd.TaskID)
	}

	c.Send(&WorkerMessage{
		MessageID: fmt.Sprintf("cancel_ack_%d", nowMillis()),
		TaskResult: &TaskResult{
			TaskID:  cmd.TaskID,
			Success: cancelled,
			Status:  TaskCancelled,
			Message: cmd.Reason,
		},
	})

	if !cancelled {
		c.log.Warn("任务不存在或已结束: %s", cmd.TaskID)
	}
}

func (c *Client) handleDataRequest(msgID string, req *DataRequest) {
	c.log.Debug("收到数据请求: %s", req.RequestType)

	c.mu.RLock()
	callback := c.onData
	c.mu.RUnlock()

	resp := &DataResponse{
		RequestType: req.RequestType,
		Message:     fmt.Sprintf("未知的请求类型: %s", req.RequestType),
		PayloadJSON: "{}",
	}
	if callback != nil {
		if r := callback(req.RequestType, req.PayloadJSON); r != nil {
			resp = r
		}
	}

	c.Send(&WorkerMessage{MessageID: msgID, DataResponse: resp})
}

// heartbeatLoop 定时上报资源占用与执行器状态
func (c *Client) heartbeatLoop(stop chan struct{}) {
	defer c.wg.Done()

	interval := c.config.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultClientConfig().HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(c.heartbeat())
		}
	}
}

// heartbeat 构造心跳消息，资源采集失败时只上报状态
func (c *Client) heartbeat() *WorkerMessage {
	hb := &Heartbeat{AgentStatus: &AgentStatus{Status: "IDLE"}}

	c.mu.RLock()
	report := c.reportStatus
	c.mu.RUnlock()
	if report != nil {
		if s := report(); s != nil {
			hb.AgentStatus = s
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if usage, err := process.SnapshotWithContext(ctx); err == nil {
		hb.Resources = usage
	} else {
		c.log.Debug("资源采集失败: %v", err)
	}

	return &WorkerMessage{
		MessageID: fmt.Sprintf("heartbeat_%d", nowMillis()),
		Heartbeat: hb,
	}
}

// Send 把消息放入发送队列，队列满时丢弃
func (c *Client) Send(msg *WorkerMessage) {
	c.mu.RLock()
	if msg.AgentID == "" {
		msg.AgentID = c.agentID
	}
	c.mu.RUnlock()
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	select {
	case c.outgoing <- msg:
	default:
		c.log.Warn("发送队列已满，丢弃消息 %s", msg.MessageID)
	}
}

// dropConn 关闭指定连接，conn 已不是当前连接时返回 false
func (c *Client) dropConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn || conn == nil {
		return false
	}
	close(c.stop)
	c.conn = nil
	c.stop = nil
	conn.Close()
	return true
}

// Disconnect 断开连接并停止重连
func (c *Client) Disconnect() error {
	c.mu.Lock()
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		c.dropConn(conn)
	}
	c.wg.Wait()

	c.mu.Lock()
	c.agentID = ""
	c.agentName = ""
	c.mu.Unlock()

	c.log.Info("已断开连接")
	c.setStatus(StatusDisconnected)
	return nil
}

// reconnect 按配置的等待序列重连
func (c *Client) reconnect() {
	defer c.wg.Done()

	c.mu.RLock()
	quit := c.quit
	c.mu.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.setStatus(StatusReconnecting)
	delays := c.config.ReconnectDelays
	for i, delay := range delays {
		c.log.Info("第 %d/%d 次重连，%s 后开始", i+1, len(delays), delay)
		select {
		case <-quit:
			return
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err == nil {
			select {
			case <-quit:
				c.mu.RLock()
				conn := c.conn
				c.mu.RUnlock()
				c.dropConn(conn)
			default:
				c.log.Info("重连成功")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	c.log.Error("重连失败，已放弃")
	c.setStatus(StatusDisconnected)
}

// GetStatus 获取当前状态
func (c *Client) GetStatus() (ClientStatus, string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.agentID, c.agentName
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SetStatusCallback 设置状态变更回调
func (c *Client) SetStatusCallback(callback StatusCallback) {
	c.mu.Lock()
	c.onStatusChange = callback
	c.mu.Unlock()
}

// SetTaskCallback 设置任务回调
func (c *Client) SetTaskCallback(callback TaskCallback) {
	c.mu.Lock()
	c.onTask = callback
	c.mu.Unlock()
}

// SetCancelCallback 设置取消任务回调
func (c *Client) SetCancelCallback(callback CancelCallback) {
	c.mu.Lock()
	c.onCancel = callback
	c.mu.Unlock()
}

// SetDataCallback 设置数据请求回调
func (c *Client) SetDataCallback(callback DataCallback) {
	c.mu.Lock()
	c.onData = callback
	c.mu.Unlock()
}

// SetStatusReporter 设置心跳状态来源
func (c *Client) SetStatusReporter(report StatusReporter) {
	c.mu.Lock()
	c.reportStatus = report
	c.mu.Unlock()
}

// setStatus 设置状态并触发回调
func (c *Client) setStatus(status ClientStatus) {
	c.mu.Lock()
	c.status = status
	callback := c.onStatusChange
	c.mu.Unlock()

	if callback != nil {
		callback(status)
	}
}

func (c *Client) handshakeTimeout() time.Duration {
	if c.config.HandshakeTimeout > 0 {
		return c.config.HandshakeTimeout
	}
	return DefaultClientConfig().HandshakeTimeout
}
