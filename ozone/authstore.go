package ozone

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

var ErrSessionNotFound = errors.New("no stored session")

// FileAuthStore persists OAuth session and auth request data as JSON files
// under the XDG state directory.
//
// The console holds at most one operator session, so the sessionID parameters
// are ignored: saving a session replaces whatever was stored before.
type FileAuthStore struct {
	relDir string
}

var _ oauth.ClientAuthStore = (*FileAuthStore)(nil)

func NewFileAuthStore(appName string) *FileAuthStore {
	return &FileAuthStore{relDir: appName}
}

func (s *FileAuthStore) sessionRelPath() string {
	return filepath.Join(s.relDir, "oauth-session.json")
}

// Auth request state tokens are client-generated nonces; hash them anyway so
// they can never escape into a filename.
func (s *FileAuthStore) requestRelPath(state string) string {
	sum := sha256.Sum256([]byte(state))
	return filepath.Join(s.relDir, fmt.Sprintf("auth-request-%x.json", sum[:8]))
}

func (s *FileAuthStore) GetSession(ctx context.Context, did syntax.DID, sessionID string) (*oauth.ClientSessionData, error) {
	fpath, err := xdg.SearchStateFile(s.sessionRelPath())
	if err != nil {
		return nil, ErrSessionNotFound
	}
	b, err := os.ReadFile(fpath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var sess oauth.ClientSessionData
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if sess.AccountDID != did {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *FileAuthStore) SaveSession(ctx context.Context, sess oauth.ClientSessionData) error {
	fpath, err := xdg.StateFile(s.sessionRelPath())
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fpath, b, 0600)
}

func (s *FileAuthStore) DeleteSession(ctx context.Context, did syntax.DID, sessionID string) error {
	fpath, err := xdg.SearchStateFile(s.sessionRelPath())
	if err != nil {
		// already gone
		return nil
	}
	if err := os.Remove(fpath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (s *FileAuthStore) GetAuthRequestInfo(ctx context.Context, state string) (*oauth.AuthRequestData, error) {
	fpath, err := xdg.SearchStateFile(s.requestRelPath(state))
	if err != nil {
		return nil, fmt.Errorf("auth request info not found")
	}
	b, err := os.ReadFile(fpath)
	if err != nil {
		return nil, fmt.Errorf("reading auth request file: %w", err)
	}
	var info oauth.AuthRequestData
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("parsing auth request file: %w", err)
	}
	return &info, nil
}

func (s *FileAuthStore) SaveAuthRequestInfo(ctx context.Context, info oauth.AuthRequestData) error {
	fpath, err := xdg.StateFile(s.requestRelPath(info.State))
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fpath, b, 0600)
}

func (s *FileAuthStore) DeleteAuthRequestInfo(ctx context.Context, state string) error {
	fpath, err := xdg.SearchStateFile(s.requestRelPath(state))
	if err != nil {
		return nil
	}
	if err := os.Remove(fpath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
