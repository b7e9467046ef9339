package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"time-agent/internal/domain"
)

// ProfileLookup resolves a chat handle to a user profile.
type ProfileLookup interface {
	Lookup(ctx context.Context, handle string) (domain.UserProfile, bool, error)
}

// SeedProfiles are the built-in Slack profiles available without any backing store.
var SeedProfiles = []domain.UserProfile{
	{User: "U12345678", Timezone: "America/New_York"},
	{User: "U87654321", Timezone: "Europe/London"},
	{User: "U11223344", Timezone: "Asia/Dubai"},
}

// StaticProfiles is an in-memory profile directory. It is read-only once built.
type StaticProfiles struct {
	byHandle map[string]domain.UserProfile
	fold     bool
}

// NewStaticProfiles builds a directory that matches handles exactly, as Slack
// IDs are. Later entries win.
func NewStaticProfiles(profiles ...domain.UserProfile) *StaticProfiles {
	return newStaticProfiles(false, profiles)
}

// NewHandleProfiles builds a directory that matches handles case-insensitively,
// for user-chosen handles such as those of a profile CSV. Later entries win.
func NewHandleProfiles(profiles ...domain.UserProfile) *StaticProfiles {
	return newStaticProfiles(true, profiles)
}

func newStaticProfiles(fold bool, profiles []domain.UserProfile) *StaticProfiles {
	s := &StaticProfiles{byHandle: make(map[string]domain.UserProfile, len(profiles)), fold: fold}
	for _, p := range profiles {
		s.add(p)
	}
	return s
}

func (s *StaticProfiles) key(handle string) string {
	handle = strings.TrimSpace(handle)
	if s.fold {
		return strings.ToLower(handle)
	}
	return handle
}

func (s *StaticProfiles) add(p domain.UserProfile) {
	handle := s.key(p.User)
	if handle == "" || strings.TrimSpace(p.Timezone) == "" {
		return
	}
	s.byHandle[handle] = p
}

func (s *StaticProfiles) Lookup(_ context.Context, handle string) (domain.UserProfile, bool, error) {
	if s == nil {
		return domain.UserProfile{}, false, nil
	}
	p, ok := s.byHandle[s.key(handle)]
	return p, ok, nil
}

func (s *StaticProfiles) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byHandle)
}

// LoadProfilesCSV reads a profile CSV file. See ReadProfilesCSV for the format.
func LoadProfilesCSV(path string) ([]domain.UserProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("repository: open profiles: %w", err)
	}
	defer f.Close()
	return ReadProfilesCSV(f)
}

// ReadProfilesCSV parses a CSV with a header row naming a handle column
// ("user" or "handle"), a "timezone" column and an optional "full_name"
// column. Rows missing a handle or timezone are skipped.
func ReadProfilesCSV(r io.Reader) ([]domain.UserProfile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: read profiles header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["timezone"]; !ok {
		return nil, errors.New(`repository: profiles CSV has no "timezone" column`)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []domain.UserProfile
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("repository: read profiles: %w", err)
		}
		handle := field(rec, "user")
		if handle == "" {
			handle = field(rec, "handle")
		}
		tz := field(rec, "timezone")
		if handle == "" || tz == "" {
			continue
		}
		out = append(out, domain.UserProfile{User: handle, Timezone: tz, FullName: field(rec, "full_name")})
	}
	return out, nil
}

// ChainProfiles consults each directory in order and returns the first hit.
// An error from any directory stops the search.
type ChainProfiles []ProfileLookup

func (c ChainProfiles) Lookup(ctx context.Context, handle string) (domain.UserProfile, bool, error) {
	for _, d := range c {
		if d == nil {
			continue
		}
		p, ok, err := d.Lookup(ctx, handle)
		if err != nil {
			return domain.UserProfile{}, false, err
		}
		if ok {
			return p, true, nil
		}
	}
	return domain.UserProfile{}, false, nil
}
