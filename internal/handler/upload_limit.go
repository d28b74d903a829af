package handler

import (
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
)

// uploadProblem returns a client facing message when header is not an
// acceptable PDF upload, or "" when it is.
func uploadProblem(header *multipart.FileHeader, maxUpload int64) string {
	if header.Size <= 0 {
		return "file is empty"
	}
	if maxUpload > 0 && header.Size > maxUpload {
		return "file exceeds " + uploadLimitText(maxUpload)
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return "only pdf files are accepted"
	}
	return ""
}

func uploadLimitText(limit int64) string {
	const mb = 1 << 20
	if limit < mb {
		return strconv.FormatInt(limit>>10, 10) + "KB"
	}
	return strconv.FormatInt(limit/mb, 10) + "MB"
}
