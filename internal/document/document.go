package document

// UploadedFile is the raw upload as received from the user.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// Page is the extracted text of one PDF page.
type Page struct {
	Index  int    `json:"index"`  // Position among emitted pages (blank pages are skipped)
	Number int    `json:"number"` // 1-based page number in the source PDF
	Text   string `json:"text"`   // Extracted, normalised page text
	Source string `json:"source"` // Upload filename
}

// Chunk is a bounded piece of page text, the unit of translation.
type Chunk struct {
	Index     int    `json:"index"`   // Sequence number across the whole document
	Text      string `json:"text"`    // Overlap + Core, what gets translated
	Overlap   string `json:"overlap"` // Tail of the previous chunk carried for context
	Core      string `json:"core"`    // New source text covered by this chunk
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}
