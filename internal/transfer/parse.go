package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	errNoCollections = errors.New("file has neither patients nor appointments")
	errTrailingData  = errors.New("unexpected data after the backup object")
)

// ImportParseError means the file is not a usable backup. Nothing has been
// written when it is returned.
type ImportParseError struct {
	Err error
}

func (e *ImportParseError) Error() string {
	return "invalid backup file: " + e.Err.Error()
}

func (e *ImportParseError) Unwrap() error { return e.Err }

// File is a parsed backup awaiting confirmation. Records stay raw until
// import so one malformed record does not reject the whole file.
type File struct {
	User         string
	Patients     []json.RawMessage
	Appointments []json.RawMessage
}

// Preview is what the user confirms before anything is written.
type Preview struct {
	ConfirmRequired bool `json:"confirmRequired"`
	Patients        int  `json:"patients"`
	Appointments    int  `json:"appointments"`
}

// Parse reads a backup. It fails when the input is not JSON or has neither
// a patients nor an appointments array.
func Parse(r io.Reader) (*File, error) {
	var raw struct {
		User         string             `json:"user"`
		Patients     *[]json.RawMessage `json:"patients"`
		Appointments *[]json.RawMessage `json:"appointments"`
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &ImportParseError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ImportParseError{Err: errTrailingData}
	}
	if raw.Patients == nil && raw.Appointments == nil {
		return nil, &ImportParseError{Err: errNoCollections}
	}
	f := &File{User: raw.User}
	if raw.Patients != nil {
		f.Patients = *raw.Patients
	}
	if raw.Appointments != nil {
		f.Appointments = *raw.Appointments
	}
	return f, nil
}

func (f *File) Preview() Preview {
	return Preview{
		ConfirmRequired: true,
		Patients:        len(f.Patients),
		Appointments:    len(f.Appointments),
	}
}

// Message is the confirmation prompt shown before importing.
func (p Preview) Message() string {
	return fmt.Sprintf("found %d patients and %d appointments; import them into the current account?", p.Patients, p.Appointments)
}
