package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"streamgate/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps a session-scoped error kind onto an HTTP status.
func writeDomainError(w http.ResponseWriter, e *domain.Error) {
	status := http.StatusInternalServerError
	switch e.Kind {
	case domain.KindBadRequest, domain.KindOutOfRange:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindAccessDenied:
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorBody{Error: e.Message, Code: string(e.Kind)})
}

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// parseByteRange parses "bytes=start-end" against the file size. end
// defaults to size-1 when omitted. Any start or end at or past the file
// size, a start after the end, or a malformed spec is not satisfiable; the
// caller answers 416 with "bytes */size".
func parseByteRange(value string, size int64) (int64, int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return 0, 0, errRangeNotSatisfiable
	}
	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, errRangeNotSatisfiable
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errRangeNotSatisfiable
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])
	if startStr == "" {
		return 0, 0, errRangeNotSatisfiable
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return 0, 0, errRangeNotSatisfiable
		}
	}

	if start >= size || end >= size || start > end {
		return 0, 0, errRangeNotSatisfiable
	}
	return start, end, nil
}

// resolveSessionFilePath joins name under the session folder and rejects
// anything that escapes it.
func resolveSessionFilePath(folder, name string) (string, error) {
	base := filepath.Clean(folder)
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	joined := filepath.Clean(filepath.Join(base, filepath.FromSlash(name)))
	if abs, err := filepath.Abs(joined); err == nil {
		joined = abs
	}
	if joined == base || !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", errors.New("path escapes session folder")
	}
	return joined, nil
}

func fallbackContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".flv":
		return "video/x-flv"
	default:
		return "application/octet-stream"
	}
}

// pathSuffix extracts everything after prefix, e.g. the id from /status/<id>.
func pathSuffix(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
