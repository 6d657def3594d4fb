// Package inventory exports and imports server records as YAML.
//
// Secrets are exported as stored (encrypted), so a document round-trips
// between installations that share the same encryption key.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/store"
)

// Version is the document format version written by Export.
const Version = 1

// Document is the on-disk inventory layout.
type Document struct {
	Version    int             `yaml:"version"`
	ExportedAt time.Time       `yaml:"exported_at,omitempty"`
	Servers    []models.Server `yaml:"servers"`
}

// Store is the subset of the credential store used here.
type Store interface {
	List(ctx context.Context) ([]models.Server, error)
	Get(ctx context.Context, id string, decrypt bool) (models.Server, error)
	Add(ctx context.Context, server models.Server) bool
	Update(ctx context.Context, id string, server models.Server) bool
}

// Skipped describes a record Import did not apply.
type Skipped struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Report summarizes an import.
type Report struct {
	Added   int       `json:"added"`
	Updated int       `json:"updated"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Export writes every server in s to w.
func Export(ctx context.Context, s Store, w io.Writer) error {
	servers, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	doc := Document{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Servers:    servers,
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}
	return enc.Close()
}

// Parse reads and checks a document without touching any store.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("inventory is empty")
		}
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = Version
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("inventory version %d is newer than supported version %d", doc.Version, Version)
	}
	return &doc, nil
}

// Import applies doc to s. Records whose id already exists replace the
// stored record; others are added. Invalid records are skipped and reported.
func Import(ctx context.Context, s Store, doc *Document) (Report, error) {
	var report Report
	for i, server := range doc.Servers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		server.Name = strings.TrimSpace(server.Name)
		if server.AuthType == "" {
			server.AuthType = models.AuthTypePassword
		}

		if err := validate(server); err != nil {
			report.skip(i, server, err.Error())
			continue
		}

		if server.ID != "" {
			_, err := s.Get(ctx, server.ID, false)
			switch {
			case err == nil:
				if !s.Update(ctx, server.ID, server) {
					report.skip(i, server, "update failed")
					continue
				}
				report.Updated++
				continue
			case !errors.Is(err, store.ErrServerNotFound):
				return report, fmt.Errorf("lookup server %s: %w", server.ID, err)
			}
		}

		if !s.Add(ctx, server) {
			report.skip(i, server, "add failed")
			continue
		}
		report.Added++
	}
	return report, nil
}

// validate is Server.Validate without the id requirement; imported records
// may omit ids and get fresh ones.
func validate(server models.Server) error {
	if server.ID == "" {
		server.ID = "pending"
	}
	return server.Validate()
}

func (r *Report) skip(index int, server models.Server, reason string) {
	r.Skipped = append(r.Skipped, Skipped{Index: index, Name: server.DisplayName(), Reason: reason})
}
