package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// CrashLogDir receives crash-<timestamp>.log files
var CrashLogDir = "./logs"

// crashContext is the run and key in progress, named in crash reports so a
// panic mid-run can be traced to the capture that triggered it.
var crashContext struct {
	sync.Mutex
	runID string
	key   string
}

// InstallCrashHandler sets the crash file directory and creates it.
// Pair with a deferred RecoverWithCrashFile at the top of main.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "vista: cannot create crash directory %s: %v\n", CrashLogDir, err)
	}
}

// SetCrashRun records the run now executing. Any key from a previous run is cleared.
func SetCrashRun(runID string) {
	crashContext.Lock()
	defer crashContext.Unlock()
	crashContext.runID = runID
	crashContext.key = ""
}

// SetCrashKey records the baseline key now being captured or compared
func SetCrashKey(key string) {
	crashContext.Lock()
	defer crashContext.Unlock()
	crashContext.key = key
}

// ClearCrashContext forgets the active run and key
func ClearCrashContext() {
	SetCrashRun("")
}

// CrashContext returns the run ID and key a crash report would name
func CrashContext() (runID, key string) {
	crashContext.Lock()
	defer crashContext.Unlock()
	return crashContext.runID, crashContext.key
}

// WriteCrashFile writes a crash report naming the active run and key, and
// returns its path. On write failure the report goes to stderr and "" is returned.
func WriteCrashFile(panicVal interface{}, stack []byte) string {
	now := time.Now()
	runID, key := CrashContext()
	report := crashReport(now, runID, key, panicVal, stack)

	name := "crash-" + now.Format("2006-01-02T15-04-05")
	if runID != "" {
		name += "-" + runID
	}
	crashPath := filepath.Join(CrashLogDir, name+".log")

	if err := writeSynced(crashPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "vista: cannot write crash file: %v\n%s", err, report)
		return ""
	}

	fmt.Fprintf(os.Stderr, "\nvista crashed (run %s, key %s): %v\ncrash report: %s\n",
		orNone(runID), orNone(key), panicVal, crashPath)
	return crashPath
}

// RecoverWithCrashFile writes a crash file for a panic and exits with status 2.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, debug.Stack())
		os.Exit(2)
	}
}

func crashReport(at time.Time, runID, key string, panicVal interface{}, stack []byte) []byte {
	var b bytes.Buffer
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(&b, "vista crash report\n\n")
	fmt.Fprintf(&b, "Time:    %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Version: %s\n", GetFullVersion())
	fmt.Fprintf(&b, "Run ID:  %s\n", orNone(runID))
	fmt.Fprintf(&b, "Key:     %s\n", orNone(key))
	fmt.Fprintf(&b, "Panic:   %v\n\n", panicVal)

	fmt.Fprintf(&b, "--- panicking goroutine ---\n%s\n", stack)
	fmt.Fprintf(&b, "--- all goroutines ---\n%s\n", allStacks())

	fmt.Fprintf(&b, "--- runtime ---\n")
	fmt.Fprintf(&b, "%s %s/%s, %d CPUs, %d goroutines\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.NumGoroutine())
	fmt.Fprintf(&b, "heap %d MB, sys %d MB, %d GCs\n", mem.HeapAlloc>>20, mem.Sys>>20, mem.NumGC)
	return b.Bytes()
}

// allStacks dumps every goroutine, growing the buffer up to 64 MB
func allStacks() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 64<<20 {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
