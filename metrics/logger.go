package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// StdoutLogger writes each record as one zerolog event.
type StdoutLogger struct {
	log zerolog.Logger
}

func NewStdoutLogger(log zerolog.Logger) *StdoutLogger {
	return &StdoutLogger{log: log}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Error().Err(err).Msg("StdoutLogger")
		return
	}
	l.log.Info().RawJSON("metrics", []byte(strings.TrimSpace(infoStr))).Send()
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger queues records to writer goroutines, each appending to its
// own logN file and rotating it to logN.M once it exceeds MaxLogFileSize.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	log  zerolog.Logger
	done chan struct{}
}

func NewFileLogger(log zerolog.Logger, logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
		log:            log,
		done:           make(chan struct{}, defaultLogWriters),
	}

	for i := 0; i < defaultLogWriters; i++ {
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writers to exit.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	for i := 0; i < defaultLogWriters; i++ {
		<-l.done
	}
}

func (l *FileLogger) startLogWriter(idx int) {
	defer func() { l.done <- struct{}{} }()
	log := l.log.With().Int("writer", idx).Logger()

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error().Err(err).Msg("FileLogger: log open error")
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Error().Err(err).Msg("FileLogger: info.ToJSON() error")
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			log.Error().Err(err).Msg("FileLogger: write error")
			continue
		}
		f.Sync()
	}

	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) logFileName(idx int) string {
	return fmt.Sprintf("log%d", idx)
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	logFilePath := filepath.Join(l.LogDir, l.logFileName(idx))
	return os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	log := l.log.With().Int("writer", idx).Logger()
	if currFile == nil {
		return l.openLogFile(idx)
	}

	info, err := currFile.Stat()
	if err != nil {
		log.Error().Err(err).Msg("FileLogger: log rotation error")
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := filepath.Join(l.LogDir, l.logFileName(idx))
	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := filepath.Join(l.LogDir, fmt.Sprintf("%s.%d", l.logFileName(idx), i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		entries, err := os.ReadDir(l.LogDir)
		if err != nil {
			log.Error().Err(err).Msg("FileLogger: log rotation error")
			return currFile, nil
		}

		var oldestName string
		oldestTime := time.Now()
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			fileName := entry.Name()
			if strings.TrimSuffix(fileName, filepath.Ext(fileName)) != l.logFileName(idx) || fileName == l.logFileName(idx) {
				continue
			}
			fi, err := entry.Info()
			if err != nil {
				continue
			}
			if fi.ModTime().Before(oldestTime) {
				oldestName = fileName
				oldestTime = fi.ModTime()
			}
		}

		if len(oldestName) > 0 {
			rotatedLogFilePath = filepath.Join(l.LogDir, oldestName)
		} else {
			rotatedLogFilePath = filepath.Join(l.LogDir, fmt.Sprintf("%s.%d", l.logFileName(idx), 0))
		}

		if l.Verbose {
			log.Info().Str("file", rotatedLogFilePath).Msg("FileLogger: maximum number of log files reached, overwriting")
		}
		if err := os.Remove(rotatedLogFilePath); err != nil {
			log.Error().Err(err).Msg("FileLogger: log rotation error")
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(currLogFilePath, rotatedLogFilePath); err != nil {
		log.Error().Err(err).Msg("FileLogger: log rotation error")
	} else if l.Verbose {
		log.Info().Str("file", rotatedLogFilePath).Msg("FileLogger: log file rotated")
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error().Err(err).Msg("FileLogger: log rotation error")
	}
	return f, err
}
