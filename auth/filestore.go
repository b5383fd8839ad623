package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/adrg/xdg"
)

// SubjectStore backed by a JSON file in the XDG state directory, so the
// operator stays signed in across daemon restarts.
type FileSubjectStore struct {
	// Relative file path under the XDG state dir, eg "modconsole/subject.json"
	RelPath string
}

var _ SubjectStore = (*FileSubjectStore)(nil)

func NewFileSubjectStore(appName string) *FileSubjectStore {
	return &FileSubjectStore{RelPath: appName + "/subject.json"}
}

type subjectFile struct {
	DID syntax.DID `json:"did"`
}

func (s *FileSubjectStore) Get(ctx context.Context) (*syntax.DID, error) {
	fPath, err := xdg.SearchStateFile(s.RelPath)
	if err != nil {
		// empty slot
		return nil, nil
	}

	fBytes, err := os.ReadFile(fPath)
	if err != nil {
		return nil, err
	}

	var sf subjectFile
	if err := json.Unmarshal(fBytes, &sf); err != nil {
		return nil, fmt.Errorf("parsing persisted subject: %w", err)
	}
	did, err := syntax.ParseDID(sf.DID.String())
	if err != nil {
		return nil, fmt.Errorf("parsing persisted subject: %w", err)
	}
	return &did, nil
}

func (s *FileSubjectStore) Put(ctx context.Context, did syntax.DID) error {
	fPath, err := xdg.StateFile(s.RelPath)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(subjectFile{DID: did}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fPath, b, 0600)
}

func (s *FileSubjectStore) Clear(ctx context.Context) error {
	fPath, err := xdg.SearchStateFile(s.RelPath)
	if err != nil {
		// already empty
		return nil
	}
	return os.Remove(fPath)
}
