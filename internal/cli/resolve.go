package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/models"
)

const maxSuggestions = 5

// serverLister is the store surface resolve needs.
type serverLister interface {
	List(ctx context.Context) ([]models.Server, error)
}

func shortID(id string) string {
	const limit = 8
	if len(id) <= limit {
		return id
	}
	return id[:limit]
}

// findServer resolves an exact id, an exact name (case-insensitive), or a
// unique id prefix.
func findServer(ctx context.Context, servers serverLister, ref string) (models.Server, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.Server{}, errors.New("server name or ID required")
	}

	all, err := servers.List(ctx)
	if err != nil {
		return models.Server{}, fmt.Errorf("list servers: %w", err)
	}
	for _, s := range all {
		if s.ID == ref {
			return s, nil
		}
	}

	var byName []models.Server
	for _, s := range all {
		if strings.EqualFold(s.Name, ref) {
			byName = append(byName, s)
		}
	}
	if len(byName) == 1 {
		return byName[0], nil
	}
	if len(byName) > 1 {
		return models.Server{}, fmt.Errorf("server name '%s' is ambiguous; matches: %s (use the ID)", ref, formatMatches(byName))
	}

	var byPrefix []models.Server
	for _, s := range all {
		if strings.HasPrefix(s.ID, ref) {
			byPrefix = append(byPrefix, s)
		}
	}
	switch {
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return models.Server{}, fmt.Errorf("server '%s' is ambiguous; matches: %s (use a longer prefix or full ID)", ref, formatMatches(byPrefix))
	case len(all) == 0:
		return models.Server{}, fmt.Errorf("server '%s' not found (no servers registered yet; try 'hostdeck servers add')", ref)
	default:
		return models.Server{}, fmt.Errorf("server '%s' not found. Example input: '%s' or '%s'", ref, all[0].DisplayName(), shortID(all[0].ID))
	}
}

// resolveServerIDs maps refs to ids. With all set every stored server is
// returned. With no refs the selected context server is used.
func resolveServerIDs(ctx context.Context, servers serverLister, contexts *config.ContextStore, refs []string, all bool) ([]models.Server, error) {
	if all {
		list, err := servers.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list servers: %w", err)
		}
		if len(list) == 0 {
			return nil, errors.New("no servers registered yet")
		}
		return list, nil
	}

	if len(refs) == 0 && contexts != nil {
		selected, err := contexts.Load()
		if err != nil {
			return nil, err
		}
		if !selected.IsEmpty() {
			refs = []string{selected.ServerID}
		}
	}
	if len(refs) == 0 {
		return nil, errors.New("no server given; pass --server, --all, or select one with 'hostdeck use'")
	}

	seen := make(map[string]struct{}, len(refs))
	out := make([]models.Server, 0, len(refs))
	for _, ref := range refs {
		s, err := findServer(ctx, servers, ref)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func formatMatches(servers []models.Server) string {
	labels := make([]string, 0, len(servers))
	for _, s := range servers {
		labels = append(labels, fmt.Sprintf("%s (%s)", s.DisplayName(), shortID(s.ID)))
	}
	sort.Strings(labels)
	if len(labels) > maxSuggestions {
		labels = append(labels[:maxSuggestions], "...")
	}
	return strings.Join(labels, ", ")
}

func serverIDs(servers []models.Server) []string {
	ids := make([]string, len(servers))
	for i, s := range servers {
		ids[i] = s.ID
	}
	return ids
}

func nameIndex(servers []models.Server) map[string]string {
	names := make(map[string]string, len(servers))
	for _, s := range servers {
		names[s.ID] = s.DisplayName()
	}
	return names
}
