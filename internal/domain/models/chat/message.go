package chat

// ContentPart is one element of a multimodal message body in the
// OpenAI-compatible shape: a text part or an image_url part.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference for multimodal encoding.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is one entry of the assembled backend context. The builder folds
// document text and OCR output into Content; Images and Parts carry native
// image data only for vision-capable models. DocFiles is transient builder
// state and never reaches an adapter.
type Message struct {
	Role    string
	Content string

	// Images holds base64 payloads for the local backend's native vision
	// encoding (data-URL prefix already stripped).
	Images []string

	// Parts holds the multimodal body for OpenAI-compatible backends. When
	// non-empty, adapters send it instead of Content.
	Parts []ContentPart

	// DocFiles is the raw per-turn document text before it is folded into
	// Content. Cleared by the builder once folded.
	DocFiles []string
}
