package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"localchat/internal/chat"
	"localchat/internal/extractor"
)

// UploadFile is one file received from the client.
type UploadFile struct {
	Name string
	Data []byte
}

type UploadResult struct {
	LoadedFiles int `json:"loaded_files"`
	TotalFiles  int `json:"total_files"`
}

// Upload stores the files under uploads/<session>/ and appends their text to
// the session's file context. PDF and DOCX files are extracted; anything else,
// or a file that fails extraction, is read as UTF-8 with invalid bytes
// dropped.
func (o *Orchestrator) Upload(sessionID string, files []UploadFile) (UploadResult, error) {
	if sessionID == "" {
		return UploadResult{}, chat.ErrSessionIDRequired
	}
	sid := chat.SanitizeID(sessionID)

	dir := ""
	if o.uploadsDir != "" {
		dir = filepath.Join(o.uploadsDir, sid)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return UploadResult{}, fmt.Errorf("failed to create upload dir: %w", err)
		}
	}

	type doc struct{ name, text string }
	docs := make([]doc, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f.Name)
		docs = append(docs, doc{name: name, text: o.extract(dir, name, f.Data)})
	}

	st, err := o.sessions.Update(sid, func(s *chat.State) error {
		for _, d := range docs {
			s.AppendFile(d.name, d.text)
		}
		return nil
	})
	if err != nil {
		o.log.Error("failed to save session", zap.String("session", sid), zap.Error(err))
	}
	return UploadResult{LoadedFiles: len(docs), TotalFiles: st.FileCount()}, nil
}

func (o *Orchestrator) extract(dir, name string, data []byte) string {
	if dir == "" {
		return extractor.DecodeText(data)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		o.log.Warn("failed to store upload", zap.String("file", name), zap.Error(err))
		return extractor.DecodeText(data)
	}
	text, err := extractor.ExtractText(path)
	if err != nil {
		o.log.Warn("extraction failed, using raw text", zap.String("file", name), zap.Error(err))
		return extractor.DecodeText(data)
	}
	return text
}
