package assemble

import (
	"encoding/json"

	"github.com/local/questionextractor/internal/model"
)

// Document is the JSON record written for one PDF.
type Document struct {
	Metadata  Metadata   `json:"document_metadata"`
	Questions []Question `json:"questions"`
	Stats     Stats      `json:"extraction_stats"`
	Status    string     `json:"status"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// Metadata describes the source document and the chosen strategy.
type Metadata struct {
	PDFName          string  `json:"pdf_name"`
	PDFPath          string  `json:"pdf_path"`
	TotalPages       int     `json:"total_pages"`
	DominanceType    string  `json:"dominance_type"`
	ExtractionMethod string  `json:"extraction_method"`
	TableDensity     float64 `json:"table_density"`
}

// Question is a top-level question or, inside Subparts, a sub-part.
type Question struct {
	Number      string            `json:"question_number"`
	Type        string            `json:"question_type"`
	Text        string            `json:"question_text"`
	Latex       string            `json:"question_latex,omitempty"`
	Page        int               `json:"pdf_page"`
	SubpartFlag bool              `json:"subpart_flag"`
	MCQFlag     bool              `json:"mcq_flag"`
	Subparts    []Question        `json:"subparts"`
	Options     []model.MCQOption `json:"mcq_options"`
	Assets      []Asset           `json:"assets"`
}

// Asset is a linked image or table region. Path is filled by the output layer.
type Asset struct {
	ID           string     `json:"asset_id"`
	Type         string     `json:"asset_type"`
	Path         string     `json:"asset_path"`
	BBox         [4]float64 `json:"bbox"`
	Page         int        `json:"page_number"`
	Relationship string     `json:"relationship"`
	Confidence   string     `json:"confidence,omitempty"`
	Description  string     `json:"description,omitempty"`
}

// Stats summarises the emitted questions and recorded issues.
type Stats struct {
	TotalQuestions   int               `json:"total_questions"`
	MCQCount         int               `json:"mcq_count"`
	SubpartCount     int               `json:"subpart_count"`
	ImagesExtracted  int               `json:"images_extracted"`
	TablesExtracted  int               `json:"tables_extracted"`
	ProcessingErrors []ProcessingError `json:"processing_errors"`
}

// ProcessingError is one recorded issue. Reason is the kind code.
type ProcessingError struct {
	QuestionRef string `json:"question_ref"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail"`
}

// ErrorInfo is set when the document failed as a whole.
type ErrorInfo struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Marshal renders the document as indented JSON with a trailing newline.
func Marshal(doc *Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Walk visits every question and sub-part in document order.
func (d *Document) Walk(fn func(q *Question)) {
	var visit func(qs []Question)
	visit = func(qs []Question) {
		for i := range qs {
			fn(&qs[i])
			visit(qs[i].Subparts)
		}
	}
	visit(d.Questions)
}
