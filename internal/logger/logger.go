// Package logger 基于 logrus 的日志封装，统一输出格式与目标
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level 日志级别
type Level = logrus.Level

const (
	DEBUG = logrus.DebugLevel
	INFO  = logrus.InfoLevel
	WARN  = logrus.WarnLevel
	ERROR = logrus.ErrorLevel
)

// ParseLevel 解析级别名称，无法识别时返回 INFO
func ParseLevel(s string) Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return INFO
	}
	switch {
	case lvl > DEBUG:
		return DEBUG
	case lvl < ERROR:
		return ERROR
	}
	return lvl
}

// Fields 附加字段
type Fields = logrus.Fields

// 事件字段名
const (
	fieldCategory = "cat"
	fieldElapsed  = "ms"
)

// lineFormatter 输出 "15:04:05 | LEVEL | [cat] msg key=value"
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	level := strings.ToUpper(e.Level.String())
	if e.Level == logrus.WarnLevel {
		level = "WARN"
	}
	fmt.Fprintf(&b, "%s | %-5s | ", e.Time.Format("15:04:05"), level)

	if cat, ok := e.Data[fieldCategory]; ok {
		fmt.Fprintf(&b, "%-4v | ", cat)
		if ms, ok := e.Data[fieldElapsed].(float64); ok {
			fmt.Fprintf(&b, "%6.1fms | ", ms)
		}
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != fieldCategory && k != fieldElapsed {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Logger 日志记录器
type Logger struct {
	mu      sync.Mutex
	out     *logrus.Logger
	console io.Writer
	fileOut *os.File
}

var defaultLogger = New()

// New 创建输出到标准输出、级别为 INFO 的 Logger
func New() *Logger {
	out := logrus.New()
	out.SetFormatter(lineFormatter{})
	out.SetOutput(os.Stdout)
	out.SetLevel(INFO)
	return &Logger{out: out, console: os.Stdout}
}

// Default 进程级 Logger
func Default() *Logger {
	return defaultLogger
}

func (l *Logger) SetLevel(level Level) {
	l.out.SetLevel(level)
}

func (l *Logger) GetLevel() Level {
	return l.out.GetLevel()
}

// SetConsole 开关控制台输出
func (l *Logger) SetConsole(enabled bool) {
	var w io.Writer
	if enabled {
		w = os.Stdout
	}
	l.SetOutput(w)
}

// SetOutput 替换控制台输出目标，nil 表示关闭
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.rewire()
}

// SetFile 追加写入日志文件，enabled 为 false 时关闭已打开的文件
func (l *Logger) SetFile(enabled bool, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileOut != nil {
		l.fileOut.Close()
		l.fileOut = nil
	}
	if enabled && path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("无法打开日志文件 %s: %w", path, err)
		}
		l.fileOut = f
	}
	l.rewire()
	return nil
}

// rewire 调用方需持有 mu
func (l *Logger) rewire() {
	var writers []io.Writer
	if l.console != nil {
		writers = append(writers, l.console)
	}
	if l.fileOut != nil {
		writers = append(writers, l.fileOut)
	}
	switch len(writers) {
	case 0:
		l.out.SetOutput(io.Discard)
	case 1:
		l.out.SetOutput(writers[0])
	default:
		l.out.SetOutput(io.MultiWriter(writers...))
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.out.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.out.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.out.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.out.Errorf(format, args...) }

// WithFields 返回带附加字段的日志条目
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.out.WithFields(fields)
}

// LogEvent 记录一次计时事件，失败走 ERROR 级别
func (l *Logger) LogEvent(category string, ok bool, elapsedMs float64, detail string) {
	entry := l.out.WithFields(Fields{fieldCategory: category, fieldElapsed: elapsedMs})
	if ok {
		entry.Info(detail)
		return
	}
	entry.Error(detail)
}

// Close 关闭日志文件，控制台输出不受影响
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileOut == nil {
		return nil
	}
	err := l.fileOut.Close()
	l.fileOut = nil
	l.rewire()
	return err
}
