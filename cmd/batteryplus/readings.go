package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const readingsMaxLines = 20000

// readingsLog appends one CSV line per tick so percent behavior can be
// checked against the raw and filtered voltages after the fact.
type readingsLog struct {
	path string
}

// append writes: timestamp, raw mV, ema mV, droop-adjusted mV, internal %,
// visible %, status.
func (r *readingsLog) append(rawMV, emaMV, adjMV, internal, visible int, status string) error {
	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	line := fmt.Sprintf("%s, %d, %d, %d, %d, %d, %s",
		time.Now().Format("2006-01-02 15:04:05"),
		rawMV, emaMV, adjMV, internal, visible, status)

	_, err = file.WriteString(line + "\n")
	return err
}

func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	tmpFile := filepath.Join(os.TempDir(), filepath.Base(filePath)+".tmp")
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", fmt.Sprintf("tail -n %d %s > %s", maxLines, filePath, tmpFile)}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return os.Rename(tmpFile, filePath)
}
