package wren

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Logger logs structured, level-filtered diagnostics for a Wren instance.
// Adapted from air.Logger: same buffer-pooled template-rendering design,
// decoupled from the owning server so it can also be handed to the
// sandbox and the response cache.
type Logger struct {
	AppName string
	Enabled bool
	Format  string

	template   *template.Template
	bufferPool *sync.Pool
	mutex      sync.Mutex
	levels     []string

	Output io.Writer
}

type loggerLevel uint8

const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

// DefaultLoggerFormat mirrors the teacher's default: a JSON line with
// app/time/level/file/line, the message spliced in afterward.
const DefaultLoggerFormat = `{"app_name":"{{.app_name}}","time_rfc3339":"{{.time_rfc3339}}","level":"{{.level}}","short_file":"{{.short_file}}","line":"{{.line}}"}`

// NewLogger returns a ready-to-use Logger named appName.
func NewLogger(appName string) *Logger {
	return &Logger{
		AppName: appName,
		Enabled: true,
		Format:  DefaultLoggerFormat,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
		levels: []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"},
		Output: os.Stdout,
	}
}

func (l *Logger) Print(i ...interface{}) {
	fmt.Fprintln(l.Output, i...)
}

func (l *Logger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.Output, format+"\n", args...)
}

func (l *Logger) Debug(i ...interface{})                  { l.log(lvlDebug, "", i...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(lvlDebug, format, args...) }

func (l *Logger) Info(i ...interface{})                  { l.log(lvlInfo, "", i...) }
func (l *Logger) Infof(format string, args ...interface{}) { l.log(lvlInfo, format, args...) }

func (l *Logger) Warn(i ...interface{})                  { l.log(lvlWarn, "", i...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(lvlWarn, format, args...) }

func (l *Logger) Error(i ...interface{})                  { l.log(lvlError, "", i...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(lvlError, format, args...) }

func (l *Logger) Fatal(i ...interface{}) {
	l.log(lvlFatal, "", i...)
	os.Exit(1)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(lvlFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if !l.Enabled {
		return
	}

	l.mutex.Lock()
	if l.template == nil {
		l.template = template.Must(template.New("logger").Parse(l.Format))
	}
	buf := l.bufferPool.Get().(*bytes.Buffer)

	var message string
	if format == "" {
		message = fmt.Sprint(args...)
	} else {
		message = fmt.Sprintf(format, args...)
	}

	if lvl == lvlFatal {
		l.mutex.Unlock()
		panic(message)
	}

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"app_name":     l.AppName,
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        l.levels[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	if err := l.template.Execute(buf, data); err == nil {
		s := buf.String()
		if i := buf.Len() - 1; i >= 0 && s[i] == '}' {
			buf.Truncate(i)
			buf.WriteByte(',')
			b, _ := json.Marshal(message)
			buf.WriteString(`"message":`)
			buf.Write(b)
			buf.WriteByte('}')
		} else {
			buf.WriteByte(' ')
			buf.WriteString(message)
		}
		buf.WriteByte('\n')
		l.Output.Write(buf.Bytes())
	}

	buf.Reset()
	l.bufferPool.Put(buf)
	l.mutex.Unlock()
}
