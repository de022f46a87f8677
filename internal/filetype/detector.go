package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind says how a source document reaches the extractor.
type Kind int

const (
	Unsupported Kind = iota
	PDF
	// Office documents are converted to PDF first.
	Office
)

func (k Kind) String() string {
	switch k {
	case PDF:
		return "pdf"
	case Office:
		return "office"
	}
	return "unsupported"
}

// Info is the detected type of one file.
type Info struct {
	MIMEType    string
	Extension   string
	Kind        Kind
	Description string
}

// Supported reports whether the file can be extracted.
func (i Info) Supported() bool { return i.Kind != Unsupported }

var known = map[string]struct {
	kind Kind
	desc string
}{
	"application/pdf": {PDF, "PDF document"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {Office, "Microsoft Word document"},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {Office, "Microsoft PowerPoint presentation"},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {Office, "Microsoft Excel spreadsheet"},
	"application/msword":                           {Office, "Microsoft Word document (legacy)"},
	"application/vnd.ms-powerpoint":                {Office, "Microsoft PowerPoint presentation (legacy)"},
	"application/vnd.ms-excel":                     {Office, "Microsoft Excel spreadsheet (legacy)"},
	"application/vnd.oasis.opendocument.text":         {Office, "OpenDocument text"},
	"application/vnd.oasis.opendocument.presentation": {Office, "OpenDocument presentation"},
	"application/vnd.oasis.opendocument.spreadsheet":  {Office, "OpenDocument spreadsheet"},
	"application/rtf":                              {Office, "Rich Text Format"},
	"text/rtf":                                     {Office, "Rich Text Format"},
}

// Container formats are resolved by extension.
var (
	zipByExt = map[string]string{
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		".odt":  "application/vnd.oasis.opendocument.text",
		".ods":  "application/vnd.oasis.opendocument.spreadsheet",
		".odp":  "application/vnd.oasis.opendocument.presentation",
	}
	oleByExt = map[string]string{
		".doc": "application/msword",
		".xls": "application/vnd.ms-excel",
		".ppt": "application/vnd.ms-powerpoint",
	}
)

// Detect detects the file type from magic bytes, using the name only to
// resolve ZIP and OLE containers.
func Detect(filePath string) (Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return Info{}, fmt.Errorf("failed to detect file type: %w", err)
	}
	return classify(mtype.String(), mtype.Extension(), filePath), nil
}

// DetectBytes is Detect for in-memory content such as uploads.
func DetectBytes(data []byte, name string) Info {
	mtype := mimetype.Detect(data)
	return classify(mtype.String(), mtype.Extension(), name)
}

func classify(mime, ext, name string) Info {
	base, _, _ := strings.Cut(mime, ";")
	nameExt := strings.ToLower(filepath.Ext(name))
	var table map[string]string
	switch base {
	case "application/zip", "application/x-zip-compressed":
		table = zipByExt
	case "application/x-ole-storage", "application/x-cfb":
		table = oleByExt
	}
	if table != nil {
		if m, ok := table[nameExt]; ok {
			log.Debug().Str("detected", base).Str("override", m).Msg("container resolved by extension")
			base, ext = m, nameExt
		}
	}

	info := Info{MIMEType: base, Extension: ext}
	if k, ok := known[base]; ok {
		info.Kind, info.Description = k.kind, k.desc
	} else {
		info.Description = fmt.Sprintf("Unsupported file type: %s", base)
	}
	return info
}
