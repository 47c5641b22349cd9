// Package worker 通过 WebSocket 接收并执行印章比对任务
package worker

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/zoeyai/stampcheck/pkg/process"
	"github.com/zoeyai/stampcheck/pkg/vision"
)

// ==================== 状态 ====================

// ClientStatus 客户端状态
type ClientStatus string

const (
	StatusDisconnected ClientStatus = "disconnected"
	StatusConnecting   ClientStatus = "connecting"
	StatusConnected    ClientStatus = "connected"
	StatusReconnecting ClientStatus = "reconnecting"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskSuccess   TaskStatus = "SUCCESS"
	TaskFailed    TaskStatus = "FAILED"
	TaskTimeout   TaskStatus = "TIMEOUT"
	TaskCancelled TaskStatus = "CANCELLED"
)

// FailureReason 任务失败原因
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonNotFound    FailureReason = "NOT_FOUND"
	ReasonDecodeError FailureReason = "DECODE_ERROR"
	ReasonParamError  FailureReason = "PARAM_ERROR"
	ReasonSystemError FailureReason = "SYSTEM_ERROR"
)

// ==================== 配置 ====================

// ClientConfig 客户端配置
type ClientConfig struct {
	// ServerURL 服务端地址，支持 host:port、http(s):// 与 ws(s)://
	ServerURL string
	AccessKey string
	SecretKey string
	// HeartbeatInterval 心跳间隔
	HeartbeatInterval time.Duration
	// HandshakeTimeout 建连与认证超时
	HandshakeTimeout time.Duration
	// ReconnectDelays 重连等待序列，用尽后放弃
	ReconnectDelays []time.Duration
}

// DefaultClientConfig 默认配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReconnectDelays: []time.Duration{
			2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second,
		},
	}
}

// StatusCallback 状态变更回调
type StatusCallback func(status ClientStatus)

// TaskCallback 任务回调
type TaskCallback func(taskID, taskType, payloadJSON string)

// CancelCallback 取消任务回调，任务存在时返回 true
type CancelCallback func(taskID string) bool

// DataCallback 数据请求回调
type DataCallback func(requestType, payloadJSON string) *DataResponse

// StatusReporter 心跳中上报的执行器状态
type StatusReporter func() *AgentStatus

// ==================== 系统信息 ====================

// SystemInfo 系统信息
type SystemInfo struct {
	Hostname     string   `json:"hostname,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	OSVersion    string   `json:"osVersion,omitempty"`
	AgentVersion string   `json:"agentVersion,omitempty"`
	Methods      []string `json:"methods,omitempty"`
}

// GetSystemInfo 获取当前系统信息
func GetSystemInfo() *SystemInfo {
	hostname, _ := os.Hostname()

	platform := strings.ToUpper(runtime.GOOS)
	if platform == "DARWIN" {
		platform = "MACOS"
	}

	return &SystemInfo{
		Hostname:     hostname,
		Platform:     platform,
		OSVersion:    runtime.GOOS + "/" + runtime.GOARCH,
		AgentVersion: vision.Version,
		Methods: []string{
			string(vision.MethodTemplate), string(vision.MethodHash), string(vision.MethodFeature),
			string(vision.MethodPHash), string(vision.MethodDHash),
		},
	}
}

// ==================== 消息 ====================

// ConnectMessage 认证消息
type ConnectMessage struct {
	Type       string      `json:"type"`
	AccessKey  string      `json:"accessKey"`
	SecretKey  string      `json:"secretKey"`
	SystemInfo *SystemInfo `json:"systemInfo,omitempty"`
}

// ConnectResponse 认证响应
type ConnectResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// ServerMessage 服务端消息，每条只携带一种载荷
type ServerMessage struct {
	MessageID   string       `json:"messageId"`
	Timestamp   int64        `json:"timestamp"`
	ExecuteTask *ExecuteTask `json:"executeTask,omitempty"`
	CancelTask  *CancelTask  `json:"cancelTask,omitempty"`
	Ping        *Ping        `json:"ping,omitempty"`
	DataRequest *DataRequest `json:"dataRequest,omitempty"`
}

// ExecuteTask 执行任务命令
type ExecuteTask struct {
	TaskID      string `json:"taskId"`
	TaskType    string `json:"taskType"`
	PayloadJSON string `json:"payloadJson"`
}

// CancelTask 取消任务命令
type CancelTask struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
}

// Ping 服务端探活
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// DataRequest 数据查询请求
type DataRequest struct {
	RequestType string `json:"requestType"`
	PayloadJSON string `json:"payloadJson"`
}

// WorkerMessage Worker 发出的消息
type WorkerMessage struct {
	MessageID    string        `json:"messageId"`
	Timestamp    int64         `json:"timestamp"`
	AgentID      string        `json:"agentId,omitempty"`
	TaskAck      *TaskAck      `json:"taskAck,omitempty"`
	TaskResult   *TaskResult   `json:"taskResult,omitempty"`
	Pong         *Pong         `json:"pong,omitempty"`
	DataResponse *DataResponse `json:"dataResponse,omitempty"`
	Heartbeat    *Heartbeat    `json:"heartbeat,omitempty"`
}

// TaskAck 任务确认
type TaskAck struct {
	TaskID   string `json:"taskId"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// TaskResult 任务结果
type TaskResult struct {
	TaskID        string         `json:"taskId"`
	Success       bool           `json:"success"`
	Status        TaskStatus     `json:"status"`
	Message       string         `json:"message"`
	ResultJSON    string         `json:"resultJson,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	FailureReason FailureReason  `json:"failureReason,omitempty"`
	MatchLocation *MatchLocation `json:"matchLocation,omitempty"`
}

// MatchLocation 印章在参考页中的位置
type MatchLocation struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Pong 探活响应
type Pong struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// DataResponse 数据响应
type DataResponse struct {
	RequestType string `json:"requestType"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PayloadJSON string `json:"payloadJson"`
}

// Heartbeat 心跳
type Heartbeat struct {
	Resources   *process.ResourceUsage `json:"resources,omitempty"`
	AgentStatus *AgentStatus           `json:"agentStatus,omitempty"`
}

// AgentStatus 执行器状态
type AgentStatus struct {
	Status            string `json:"status"`
	CurrentTaskID     string `json:"currentTaskId,omitempty"`
	CurrentTaskType   string `json:"currentTaskType,omitempty"`
	TaskStartedAt     int64  `json:"taskStartedAt,omitempty"`
	RunningTasksCount int    `json:"runningTasksCount"`
}

// MessageSender 发送 Worker 消息
type MessageSender interface {
	Send(msg *WorkerMessage)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
