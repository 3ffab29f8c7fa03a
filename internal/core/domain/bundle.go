package domain

// ManifestEntry records one resolved source file in the bundle manifest.
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Manifest describes the immutable inputs of a bundle. Its serialized bytes
// participate in the bundle fingerprint, so field order and content must stay
// deterministic for unchanged sources.
type Manifest struct {
	TaskID   string          `json:"task_id"`
	Strategy string          `json:"strategy"`
	MaxChars int             `json:"max_chars"`
	Files    []ManifestEntry `json:"files"`
}

// Chunk is a contiguous slice of one source file's text with a stable
// ordinal id. Ids are assigned across the whole bundle in file-then-line
// order, so unchanged sources always yield the same ids.
type Chunk struct {
	ID        string `json:"chunk_id"`
	Source    string `json:"source"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
	Chars     int    `json:"chars"`
	Hash      string `json:"hash"`
}

// BundleMeta is the small summary written next to the manifest and chunk stream.
type BundleMeta struct {
	FileCount    int    `json:"file_count"`
	ChunkCount   int    `json:"chunk_count"`
	TotalChars   int    `json:"total_chars"`
	ManifestHash string `json:"manifest_hash"`
}
