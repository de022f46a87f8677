package filetype

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		mime, ext, name string
		want            Kind
		wantMIME        string
	}{
		{"application/pdf", ".pdf", "exam.pdf", PDF, "application/pdf"},
		{"application/zip", ".zip", "paper.DOCX", Office, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"application/zip", ".zip", "bundle.zip", Unsupported, "application/zip"},
		{"application/x-ole-storage", ".msi", "old.doc", Office, "application/msword"},
		{"text/plain; charset=utf-8", ".txt", "notes.txt", Unsupported, "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.mime, tt.ext, tt.name)
			if got.Kind != tt.want || got.MIMEType != tt.wantMIME {
				t.Errorf("expected %s %s, got %s %s", tt.want, tt.wantMIME, got.Kind, got.MIMEType)
			}
		})
	}
}

func TestDetectBytesPDF(t *testing.T) {
	info := DetectBytes([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"), "upload.bin")
	if info.Kind != PDF || !info.Supported() {
		t.Errorf("expected pdf, got %+v", info)
	}
}
