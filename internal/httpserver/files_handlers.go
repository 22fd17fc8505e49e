package httpserver

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/streamguard/internal/source"
	"github.com/tokligence/streamguard/internal/streamguard"
)

// HandleFile streams a file below the files root through the guard.
func (s *Server) HandleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveFile(chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	stream, info, err := source.File(path, s.chunkSize)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, source.ErrIsDirectory):
		s.respondError(w, http.StatusNotFound, errors.New("file not found"))
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	h := streamguard.HandlerFunc(func(start streamguard.StartFunc, _ *http.Request) (streamguard.Stream, error) {
		header := http.Header{}
		ctype := mime.TypeByExtension(filepath.Ext(path))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		header.Set("Content-Type", ctype)
		header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		start(http.StatusOK, header)
		return stream, nil
	})
	streamguard.Serve(h, s.streamOptions("files")...).ServeHTTP(w, r)
}

// resolveFile maps a URL path to a file under the root. Paths with ".."
// segments, and symlinks resolving outside the root, are rejected.
func (s *Server) resolveFile(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || strings.ContainsRune(seg, '\\') || strings.ContainsRune(seg, 0) {
			return "", ErrInvalidPath
		}
	}
	root, err := filepath.EvalSymlinks(s.filesRoot)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	within, err := filepath.Rel(root, resolved)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return resolved, nil
}
