// Package project reads and writes the music-box project file:
//
//	{
//		"version": 1.0,
//		"settings": {"diameter": 13, "length": 19.9, "lipSize": 0.4, "pegType": "pegs", "tempo": 120},
//		"notes": [{"id": "...", "rowIndex": 0, "stepIndex": 2}],
//		"steps": 32
//	}
//
// Loading is partial: each top-level part that is present replaces the
// matching part of the store and the rest is left alone.
package project

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/cbegin/musicbox-go/internal/timeline"
)

const (
	Version     = "1.0"
	DefaultName = "music-box"
	Ext         = ".json"
)

// ErrMalformed wraps every load failure caused by the document itself.
var ErrMalformed = errors.New("malformed project file")

// malformedError matches ErrMalformed with errors.Is while errors.Cause
// still reaches the decoder or validation error.
type malformedError struct {
	cause error
}

func malformed(err error) error {
	return errors.WithStack(&malformedError{cause: err})
}

func (e *malformedError) Error() string        { return ErrMalformed.Error() + ": " + e.cause.Error() }
func (e *malformedError) Cause() error         { return e.cause }
func (e *malformedError) Unwrap() error        { return e.cause }
func (e *malformedError) Is(target error) bool { return target == ErrMalformed }

type document struct {
	Version  json.Number           `json:"version"`
	Settings timeline.DrumSettings `json:"settings"`
	Notes    []timeline.PlacedNote `json:"notes"`
	Steps    int                   `json:"steps"`
}

type partialDocument struct {
	Version  json.Number            `json:"version"`
	Settings json.RawMessage        `json:"settings"`
	Notes    *[]timeline.PlacedNote `json:"notes"`
	Steps    *int                   `json:"steps"`
}

// Save writes the whole project, tab-indented.
func Save(w io.Writer, store *timeline.Store) error {
	doc := document{
		Version:  Version,
		Settings: store.Settings(),
		Notes:    store.PlacedNotes(),
		Steps:    store.TotalSteps(),
	}
	if doc.Notes == nil {
		doc.Notes = []timeline.PlacedNote{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return errors.Wrap(enc.Encode(doc), "encode project")
}

// FileName is the file a project called name is saved as.
func FileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = DefaultName
	}
	if strings.HasSuffix(strings.ToLower(name), Ext) {
		return name
	}
	return name + Ext
}

// SaveFile writes the project into dir and returns the path. The file is
// replaced atomically so a crash never leaves half a project behind.
func SaveFile(dir, name string, store *timeline.Store) (string, error) {
	dir, err := homedir.Expand(dir)
	if err != nil {
		return "", errors.Wrap(err, "expand project dir")
	}
	path := filepath.Join(dir, FileName(name))
	var buf bytes.Buffer
	if err := Save(&buf, store); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".musicbox-*")
	if err != nil {
		return "", errors.Wrap(err, "save project")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "save project")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "save project")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "save project %s", path)
	}
	return path, nil
}

// Load applies the parts of the document that are present. If the document
// does not parse, or any part is invalid, the store is left untouched and the
// error wraps ErrMalformed.
func Load(r io.Reader, store *timeline.Store) error {
	var doc partialDocument
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return malformed(err)
	}
	// The whole input must be one document.
	if err := dec.Decode(&json.RawMessage{}); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after project document")
		}
		return malformed(err)
	}
	var patch timeline.Patch
	if len(doc.Settings) > 0 && string(doc.Settings) != "null" {
		// Fields missing from the file keep their current value.
		settings := store.Settings()
		if err := json.Unmarshal(doc.Settings, &settings); err != nil {
			return malformed(err)
		}
		patch.Settings = &settings
	}
	patch.Notes = doc.Notes
	patch.Steps = doc.Steps
	if err := store.Replace(patch); err != nil {
		return malformed(err)
	}
	return nil
}

// LoadFile loads the project at path; "~" expands to the home directory.
func LoadFile(path string, store *timeline.Store) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return errors.Wrap(err, "expand project path")
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open project")
	}
	defer f.Close()
	return errors.Wrap(Load(f, store), path)
}
