package text

// Document is the extracted text of one source file, or of one page of it.
type Document struct {
	Source string
	Page   int
	Text   string
}

// Chunk is a window of a Document. Offset is the rune position of the window
// inside the document text.
type Chunk struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}
