package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-compta-client/factures"
)

// Stage is one remote step of the document pipeline.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageExtract  Stage = "extract"
	StageClassify Stage = "classify"
	StageGenerate Stage = "generate-entries"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageUpload, StageExtract, StageClassify, StageGenerate}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, candidate := range Stages {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Produces is the status a facture has after the stage succeeds.
func (s Stage) Produces() factures.Status {
	switch s {
	case StageUpload:
		return factures.StatusImported
	case StageExtract:
		return factures.StatusExtracted
	case StageClassify:
		return factures.StatusClassified
	case StageGenerate:
		return factures.StatusDraft
	}
	return ""
}

// StageAfter returns the stage that follows a confirmed status. It reports
// false when the status is past the pipeline or not a pipeline status.
func StageAfter(status factures.Status) (Stage, bool) {
	for _, s := range Stages {
		if s.Produces() == status {
			idx := s.Index() + 1
			if idx >= len(Stages) {
				return "", false
			}
			return Stages[idx], true
		}
	}
	return "", false
}

// Document is a file to run through the pipeline.
type Document struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileDocument reads the document from disk when the upload stage runs.
func FileDocument(path string) Document {
	return Document{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesDocument wraps in-memory content.
func BytesDocument(name string, content []byte) Document {
	return Document{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil },
	}
}

// StageError is a failed stage. Err is the normalized remote error, so its
// message can be shown as is.
type StageError struct {
	Stage     Stage
	FactureID int64
	Err       error
}

func (e *StageError) Error() string {
	if e.FactureID == 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (facture %d): %v", e.Stage, e.FactureID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
