package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

/*
	edgegate logger

	Small managed logger used across edgegate instead of scattering
	log.Println calls through the request path. Wraps the standard
	library's log package with monthly file rollover and optional
	size-based rotation.
*/

type Logger struct {
	Prefix          string //Prefix for log files
	LogFolder       string //Folder to store the log file
	CurrentLogFile  string //Current writing filename
	RotateOption    *RotateOption
	logger          *log.Logger
	file            *os.File
	logRotateTicker *time.Ticker
}

// Create a new logger that logs to files
func NewLogger(logFilePrefix string, logFolder string) (*Logger, error) {
	err := os.MkdirAll(logFolder, 0775)
	if err != nil {
		return nil, err
	}

	thisLogger := Logger{
		Prefix:       logFilePrefix,
		LogFolder:    logFolder,
		RotateOption: &RotateOption{Enabled: false},
	}

	//Create the log file if not exists
	logFilePath := thisLogger.getLogFilepath()
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0755)
	if err != nil {
		return nil, err
	}
	thisLogger.CurrentLogFile = logFilePath
	thisLogger.file = f

	//Start the logger
	logger := log.New(f, "", log.Flags()&^(log.Ldate|log.Ltime))
	logger.SetFlags(0)
	logger.SetOutput(f)
	thisLogger.logger = logger
	return &thisLogger, nil
}

// Create a fmt logger that only logs to STDOUT, used in tests
func NewFmtLogger() (*Logger, error) {
	return &Logger{
		Prefix:         "",
		LogFolder:      "",
		CurrentLogFile: "",
		RotateOption:   &RotateOption{Enabled: false},
		logger:         nil,
		file:           nil,
	}, nil
}

// EnableSizeRotation starts a background ticker that checks the current log
// file size against opt.MaxSize and rotates it when exceeded.
func (l *Logger) EnableSizeRotation(opt RotateOption, checkInterval time.Duration) {
	l.RotateOption = &opt
	if !opt.Enabled {
		return
	}
	l.logRotateTicker = time.NewTicker(checkInterval)
	go func() {
		for range l.logRotateTicker.C {
			if err := l.RotateLog(); err != nil {
				l.PrintAndLog("logger", "scheduled log rotation failed", err)
			}
		}
	}()
}

func (l *Logger) getLogFilepath() string {
	year, month, _ := time.Now().Date()
	return filepath.Join(l.LogFolder, l.Prefix+"_"+strconv.Itoa(year)+"-"+strconv.Itoa(int(month))+".log")
}

// PrintAndLog will log the message to file and print the log to STDOUT
func (l *Logger) PrintAndLog(title string, message string, originalError error) {
	go func() {
		l.Log(title, message, originalError, true)
	}()
}

// Println is a fast snap-in replacement for log.Println
func (l *Logger) Println(v ...interface{}) {
	message := fmt.Sprint(v...)
	go func() {
		l.Log("internal", message, nil, true)
	}()
}

func (l *Logger) Log(title string, errorMessage string, originalError error, copyToSTDOUT bool) {
	l.ValidateAndUpdateLogFilepath()
	if l.logger == nil || copyToSTDOUT {
		if originalError == nil {
			fmt.Println("[" + time.Now().Format("2006-01-02 15:04:05.000000") + "] [" + title + "] [system:info] " + errorMessage)
		} else {
			fmt.Println("[" + time.Now().Format("2006-01-02 15:04:05.000000") + "] [" + title + "] [system:error] " + errorMessage + ": " + originalError.Error())
		}
	}

	if l.logger != nil {
		if originalError == nil {
			l.logger.Println("[" + time.Now().Format("2006-01-02 15:04:05.000000") + "] [" + title + "] [system:info] " + errorMessage)
		} else {
			l.logger.Println("[" + time.Now().Format("2006-01-02 15:04:05.000000") + "] [" + title + "] [system:error] " + errorMessage + ": " + originalError.Error())
		}
	}
}

// Validate if the logging target is still valid (detect any months change)
func (l *Logger) ValidateAndUpdateLogFilepath() {
	if l.file == nil {
		return
	}
	expectedCurrentLogFilepath := l.getLogFilepath()
	if l.CurrentLogFile != expectedCurrentLogFilepath {
		//Change of month, archive the old file and open a new one
		oldFile := l.CurrentLogFile
		l.file.Close()
		l.file = nil

		if l.RotateOption != nil && l.RotateOption.Enabled {
			if err := l.ArchiveLog(oldFile); err != nil {
				log.Println("Unable to archive previous month log: ", err.Error())
			}
		}

		f, err := os.OpenFile(expectedCurrentLogFilepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0755)
		if err != nil {
			log.Println("Unable to create new log. Logging is disabled: ", err.Error())
			l.logger = nil
			return
		}
		l.CurrentLogFile = expectedCurrentLogFilepath
		l.file = f

		logger := log.New(f, "", log.Default().Flags())
		l.logger = logger
	}
}

func (l *Logger) Close() {
	if l.logRotateTicker != nil {
		l.logRotateTicker.Stop()
	}
	if l.file != nil {
		l.file.Close()
	}
}
