package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/document"
	"github.com/zoeyai/stampcheck/pkg/process"
	"github.com/zoeyai/stampcheck/pkg/vision"
	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// 任务类型
const (
	TaskTypeVerifyStamp = "verify_stamp"
)

// 数据请求类型
const (
	RequestTypeGetStatus  = "GET_STATUS"
	RequestTypeGetOptions = "GET_OPTIONS"
)

// DefaultTaskTimeout 单个任务的默认时限
const DefaultTaskTimeout = 60 * time.Second

// 错误定义
var (
	ErrInvalidPayload  = errors.New("任务参数错误")
	ErrUnknownTaskType = errors.New("未知的任务类型")
)

// TaskError 分类后的任务错误
type TaskError struct {
	Status  TaskStatus
	Reason  FailureReason
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}

// ClassifyError 把错误映射为任务状态与失败原因
func ClassifyError(err error) *TaskError {
	if err == nil {
		return nil
	}
	msg := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, document.ErrTimeout):
		return &TaskError{Status: TaskTimeout, Message: msg}
	case errors.Is(err, context.Canceled):
		return &TaskError{Status: TaskCancelled, Message: msg}
	}

	reason := ReasonSystemError
	switch {
	case errors.Is(err, document.ErrNotFound),
		errors.Is(err, document.ErrPageOutOfRange),
		errors.Is(err, document.ErrNoPageImage):
		reason = ReasonNotFound
	case errors.Is(err, cv.ErrDecode),
		errors.Is(err, document.ErrInvalidContent),
		errors.Is(err, document.ErrEmpty):
		reason = ReasonDecodeError
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrUnknownTaskType),
		errors.Is(err, document.ErrInvalidID):
		reason = ReasonParamError
	}
	return &TaskError{Status: TaskFailed, Reason: reason, Message: msg}
}

// VerifyPayload verify_stamp 任务参数
type VerifyPayload struct {
	DocumentID string `json:"documentId"`
	Page       int    `json:"page"`
	// Query Base64 编码的查询印章图像
	Query string `json:"query"`
}

// decode 校验参数并解码查询图
func (p *VerifyPayload) decode() ([]byte, error) {
	if strings.TrimSpace(p.DocumentID) == "" {
		return nil, errors.Wrap(ErrInvalidPayload, "缺少 documentId 参数")
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 0 {
		return nil, errors.Wrapf(ErrInvalidPayload, "page 必须为正数: %d", p.Page)
	}
	if p.Query == "" {
		return nil, errors.Wrap(ErrInvalidPayload, "缺少 query 参数")
	}

	q := p.Query
	if i := strings.Index(q, ";base64,"); i >= 0 {
		q = q[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(q)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "query 不是有效的 Base64: %v", err)
	}
	return data, nil
}

// taskInfo 运行中的任务
type taskInfo struct {
	id        string
	taskType  string
	startedAt int64
	cancel    context.CancelFunc
	cancelled bool
}

// Executor 任务执行器
type Executor struct {
	verifier *vision.Verifier
	loader   vision.PageLoader
	sender   MessageSender
	log      *logger.Logger

	// TaskTimeout 单个任务时限
	TaskTimeout time.Duration

	mu      sync.Mutex
	running map[string]*taskInfo
	slots   chan struct{}
}

// NewExecutor 创建任务执行器，maxConcurrent<=0 时不限制并发
func NewExecutor(verifier *vision.Verifier, loader vision.PageLoader, sender MessageSender, maxConcurrent int) *Executor {
	e := &Executor{
		verifier:    verifier,
		loader:      loader,
		sender:      sender,
		log:         logger.Default(),
		TaskTimeout: DefaultTaskTimeout,
		running:     make(map[string]*taskInfo),
	}
	if maxConcurrent > 0 {
		e.slots = make(chan struct{}, maxConcurrent)
	}
	return e
}

// SetLogger 设置日志器
func (e *Executor) SetLogger(l *logger.Logger) {
	if l != nil {
		e.log = l
	}
}

// Attach 把执行器挂到客户端的回调上
func (e *Executor) Attach(c *Client) {
	c.SetTaskCallback(func(taskID, taskType, payloadJSON string) {
		go e.Execute(taskID, taskType, payloadJSON)
	})
	c.SetCancelCallback(e.CancelTask)
	c.SetDataCallback(e.HandleDataRequest)
	c.SetStatusReporter(e.Status)
}

// CancelTask 取消任务
func (e *Executor) CancelTask(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.running[taskID]
	if !ok {
		return false
	}
	info.cancelled = true
	info.cancel()
	return true
}

// register 登记任务，并发已满或 ID 重复时返回 false
func (e *Executor) register(taskID, taskType string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.running[taskID]; exists {
		return false
	}
	if e.slots != nil {
		select {
		case e.slots <- struct{}{}:
		default:
			return false
		}
	}
	e.running[taskID] = &taskInfo{
		id:        taskID,
		taskType:  taskType,
		startedAt: nowMillis(),
		cancel:    cancel,
	}
	return true
}

// unregister 注销任务，返回任务是否被主动取消
func (e *Executor) unregister(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.running[taskID]
	if !ok {
		return false
	}
	delete(e.running, taskID)
	if e.slots != nil {
		<-e.slots
	}
	return info.cancelled
}

// Status 执行器状态，用于心跳
func (e *Executor) Status() *AgentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &AgentStatus{Status: "IDLE", RunningTasksCount: len(e.running)}
	var first *taskInfo
	for _, info := range e.running {
		if first == nil || info.startedAt < first.startedAt {
			first = info
		}
	}
	if first != nil {
		s.Status = "BUSY"
		s.CurrentTaskID = first.id
		s.CurrentTaskType = first.taskType
		s.TaskStartedAt = first.startedAt
	}
	return s
}

// Execute 执行任务并回传确认与结果
func (e *Executor) Execute(taskID, taskType, payloadJSON string) {
	start := time.Now()
	e.log.Info("[Task:%s] 开始执行 type=%s", taskID, taskType)

	timeout := e.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if !e.register(taskID, taskType, cancel) {
		e.log.Warn("[Task:%s] 执行器繁忙或任务重复，拒绝执行", taskID)
		e.sendAck(taskID, false, "执行器繁忙或任务重复")
		return
	}
	e.sendAck(taskID, true, "任务已接收")

	result, err := e.run(ctx, taskType, payloadJSON)
	cancelled := e.unregister(taskID)
	elapsed := time.Since(start)

	if cancelled {
		// 取消回执由客户端发送
		e.log.Info("[Task:%s] 已取消 duration=%v", taskID, elapsed)
		return
	}

	if err != nil {
		e.fail(taskID, err, elapsed)
		return
	}

	tr, err := buildTaskResult(taskID, result, elapsed)
	if err != nil {
		e.fail(taskID, err, elapsed)
		return
	}
	e.log.Info("[Task:%s] 执行成功 score=%d verdict=%s duration=%v", taskID, result.OverallScore, result.Verdict, elapsed)
	e.send(&WorkerMessage{MessageID: fmt.Sprintf("result_%d", nowMillis()), TaskResult: tr})
}

// fail 上报失败结果
func (e *Executor) fail(taskID string, err error, elapsed time.Duration) {
	taskErr := ClassifyError(err)
	e.log.Error("[Task:%s] 执行失败 status=%s reason=%s: %s", taskID, taskErr.Status, taskErr.Reason, taskErr.Message)
	e.send(&WorkerMessage{
		MessageID: fmt.Sprintf("result_%d", nowMillis()),
		TaskResult: &TaskResult{
			TaskID:        taskID,
			Status:        taskErr.Status,
			Message:       taskErr.Message,
			DurationMs:    elapsed.Milliseconds(),
			FailureReason: taskErr.Reason,
		},
	})
}

// buildTaskResult 将比对结果转换为成功的任务结果
func buildTaskResult(taskID string, result *vision.MatchResult, elapsed time.Duration) (*TaskResult, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "序列化比对结果失败")
	}
	tr := &TaskResult{
		TaskID:     taskID,
		Success:    true,
		Status:     TaskSuccess,
		Message:    string(result.Verdict),
		ResultJSON: string(resultJSON),
		DurationMs: elapsed.Milliseconds(),
	}
	if loc := result.Location; loc != nil {
		tr.MatchLocation = &MatchLocation{
			X:          loc.X,
			Y:          loc.Y,
			Width:      loc.Width,
			Height:     loc.Height,
			Confidence: float64(result.OverallScore) / 100,
		}
	}
	return tr, nil
}

// run 按任务类型分发
func (e *Executor) run(ctx context.Context, taskType, payloadJSON string) (*vision.MatchResult, error) {
	switch taskType {
	case TaskTypeVerifyStamp:
		var payload VerifyPayload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, errors.Wrapf(ErrInvalidPayload, "解析 payload 失败: %v", err)
		}
		query, err := payload.decode()
		if err != nil {
			return nil, err
		}
		if e.loader == nil {
			return nil, errors.New("未配置文档源")
		}
		return e.verifier.VerifyDocument(ctx, e.loader, payload.DocumentID, payload.Page, query)
	default:
		return nil, errors.Wrap(ErrUnknownTaskType, taskType)
	}
}

// HandleDataRequest 处理数据请求
func (e *Executor) HandleDataRequest(requestType, payloadJSON string) *DataResponse {
	var payload interface{}
	switch requestType {
	case RequestTypeGetStatus:
		usage, err := process.Snapshot()
		if err != nil {
			return dataError(requestType, fmt.Sprintf("资源采集失败: %v", err))
		}
		self, err := process.Self(context.Background())
		if err != nil {
			return dataError(requestType, fmt.Sprintf("进程信息读取失败: %v", err))
		}
		payload = map[string]interface{}{
			"agent":     e.Status(),
			"process":   self,
			"resources": usage,
		}
	case RequestTypeGetOptions:
		o := e.verifier.Options()
		payload = map[string]interface{}{
			"maxImageDimension":     o.MaxImageDimension,
			"scaleFactors":          o.ScaleFactors,
			"edgeDetection":         o.EdgeDetection,
			"scaleDiversityPenalty": o.ScaleDiversityPenalty,
			"minSimilarity":         o.MinSimilarity,
			"strongMatchThreshold":  o.StrongMatchThreshold,
		}
	default:
		return dataError(requestType, fmt.Sprintf("未知的请求类型: %s", requestType))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return dataError(requestType, fmt.Sprintf("序列化失败: %v", err))
	}
	return &DataResponse{RequestType: requestType, Success: true, PayloadJSON: string(data)}
}

func dataError(requestType, message string) *DataResponse {
	return &DataResponse{RequestType: requestType, Message: message, PayloadJSON: "{}"}
}

func (e *Executor) sendAck(taskID string, accepted bool, message string) {
	e.send(&WorkerMessage{
		MessageID: fmt.Sprintf("ack_%d", nowMillis()),
		TaskAck:   &TaskAck{TaskID: taskID, Accepted: accepted, Message: message},
	})
}

func (e *Executor) send(msg *WorkerMessage) {
	if e.sender != nil {
		e.sender.Send(msg)
	}
}
