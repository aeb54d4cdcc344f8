package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxLogTailLines bounds the number of lines a single content read returns.
const maxLogTailLines = 5000

// ServerLogsHandler exposes the rotated server log files for the operator.
type ServerLogsHandler struct {
	dir string // Directory lumberjack writes into.
}

// NewServerLogsHandler constructs a ServerLogsHandler over a log directory.
func NewServerLogsHandler(dir string) *ServerLogsHandler {
	return &ServerLogsHandler{dir: dir}
}

// List enumerates the .log files in the configured directory.
func (h *ServerLogsHandler) List(c *gin.Context) {
	entries, errRead := os.ReadDir(h.dir)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			c.JSON(http.StatusOK, gin.H{"files": []gin.H{}})
			return
		}
		log.WithError(errRead).Error("admin: read log directory failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log directory"})
		return
	}

	files := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, gin.H{
			"name":     entry.Name(),
			"size":     info.Size(),
			"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Content returns the tail of one log file. Only bare .log file names inside
// the log directory are served.
func (h *ServerLogsHandler) Content(c *gin.Context) {
	name := c.Param("name")
	if !validLogName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log file name"})
		return
	}

	lines := maxLogTailLines
	if raw := c.Query("lines"); raw != "" {
		if parsed, errParse := strconv.Atoi(raw); errParse == nil && parsed > 0 && parsed < maxLogTailLines {
			lines = parsed
		}
	}

	data, errRead := os.ReadFile(filepath.Join(h.dir, name))
	if errRead != nil {
		if os.IsNotExist(errRead) {
			c.JSON(http.StatusNotFound, gin.H{"error": "log file not found"})
			return
		}
		log.WithError(errRead).Error("admin: read log file failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log file"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"content": tailLines(string(data), lines),
	})
}

// validLogName accepts only plain .log file names, no path components.
func validLogName(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".log") {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// tailLines returns the last n lines of content.
func tailLines(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
