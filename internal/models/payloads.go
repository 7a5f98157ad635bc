package models

// These structs define the JSON payloads exchanged with the presentation
// layer over the document API.

// StageRequest is the body of POST /parse, /validate and /export.
type StageRequest struct {
	DocID string `json:"doc_id"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename,omitempty"`
	FileType string `json:"file_type"`
	Stage    Stage  `json:"stage"`
	Version  int64  `json:"version"`
}

// ParseResponse is returned by POST /parse.
type ParseResponse struct {
	DocID   string            `json:"doc_id"`
	Version int64             `json:"version"`
	Items   []RequirementItem `json:"items"`
}

// ValidateResponse is returned by POST /validate.
type ValidateResponse struct {
	DocID     string              `json:"doc_id"`
	Version   int64               `json:"version"`
	HasErrors bool                `json:"has_errors"`
	Findings  []ValidationFinding `json:"findings"`
}

// ExportResponse is returned by POST /export.
type ExportResponse struct {
	DocID       string          `json:"doc_id"`
	Version     int64           `json:"version"`
	DownloadURL string          `json:"download_url"`
	Artifact    *ExportArtifact `json:"artifact"`
}

// DocumentListResponse is returned by GET /documents.
type DocumentListResponse struct {
	Documents []DocumentSummary `json:"documents"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	DocID string `json:"doc_id,omitempty"`
}
