package model

// ItemStatus classifies a stored item. It is computed on every request
// from the filesystem plus the in-memory job table, never persisted.
type ItemStatus string

const (
	// StatusReady means the manifest exists: all stages completed.
	StatusReady ItemStatus = "ready"
	// StatusProcessing means a job is actively running for the item.
	StatusProcessing ItemStatus = "processing"
	// StatusIncomplete means the directory exists with no manifest and no
	// active job: a previous run failed or the process crashed.
	StatusIncomplete ItemStatus = "incomplete"
)

// StoreResponse is returned immediately after an accepted upload, before
// the pipeline has done any work.
type StoreResponse struct {
	ID     string     `json:"id"`
	Status ItemStatus `json:"status"`
}

// ItemStatusResponse describes one stored item. Phase, Progress and Message
// are present only while a job is processing.
type ItemStatusResponse struct {
	ID       string     `json:"id"`
	Status   ItemStatus `json:"status"`
	Phase    string     `json:"phase,omitempty"`
	Progress float64    `json:"progress,omitempty"`
	Message  string     `json:"message,omitempty"`
	HasDiff  bool       `json:"hasDiff"`
}

// ListStoredResponse lists every stored item with its classification.
type ListStoredResponse struct {
	Items []ItemStatusResponse `json:"items"`
}

// RetryRequest re-runs the pipeline on an existing item. Force regenerates
// the script and resultant video even when cached.
type RetryRequest struct {
	Force bool `json:"force"`
}

// ReconstituteRequest merges a stored item back into a playable video.
type ReconstituteRequest struct {
	ID      string `json:"id" validate:"required"`
	UseDiff bool   `json:"useDiff"`
}

// ReconstituteResponse points the client at the merged output.
type ReconstituteResponse struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	StreamURL string `json:"streamUrl"`
}

// StreamInfoResponse carries the metadata a client needs to pre-size a
// download progress indicator.
type StreamInfoResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// DownloadModelRequest starts a background model download. An empty model
// falls back to the configured default.
type DownloadModelRequest struct {
	Model string `json:"model"`
}
