// Package report assembles cross-project reporting data from a platform
// client. Issue retrieval fans out per project with bounded concurrency.
package report

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/platform"
)

// ProjectData is one project's slice of a report.
type ProjectData struct {
	Project    platform.ProjectRef `json:"project"`
	IssueTotal int                 `json:"issueTotal"`
	Issues     []platform.Issue    `json:"issues"`
}

// Data is an assembled report.
type Data struct {
	ConnectionID string              `json:"connectionId"`
	Platform     connection.Platform `json:"platform"`
	GeneratedAt  time.Time           `json:"generatedAt"`
	Projects     []ProjectData       `json:"projects"`
}

// Service assembles reports.
type Service struct {
	maxIssues   int
	concurrency int
	log         *logger.Logger
}

// ServiceConfig bounds report assembly.
type ServiceConfig struct {
	// MaxIssuesPerProject caps issues fetched per project. 0 = default 10.
	MaxIssuesPerProject int
	// Concurrency caps parallel issue fetches. 0 = default 4.
	Concurrency int
}

// NewService creates a report service.
func NewService(cfg ServiceConfig, log *logger.Logger) *Service {
	if cfg.MaxIssuesPerProject <= 0 {
		cfg.MaxIssuesPerProject = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		maxIssues:   cfg.MaxIssuesPerProject,
		concurrency: cfg.Concurrency,
		log:         log,
	}
}

// Assemble builds a report for a connection. When projectKeys is empty all
// accessible projects are included. The first failing fetch aborts the
// whole assembly; a report is either complete or not produced.
func (s *Service) Assemble(ctx context.Context, connectionID string, client platform.Client, projectKeys []string) (*Data, error) {
	projects, err := client.ListProjects(ctx, platform.Page{Size: 100})
	if err != nil {
		return nil, err
	}
	targets := filterProjects(projects, projectKeys)

	data := &Data{
		ConnectionID: connectionID,
		Platform:     client.Platform(),
		GeneratedAt:  time.Now().UTC(),
		Projects:     make([]ProjectData, len(targets)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, project := range targets {
		g.Go(func() error {
			search, err := client.FetchIssues(ctx, project.Key, s.maxIssues)
			if err != nil {
				return err
			}
			data.Projects[i] = ProjectData{
				Project:    project,
				IssueTotal: search.Total,
				Issues:     search.Issues,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("report assembled",
		"connection_id", connectionID,
		"projects", len(data.Projects))
	return data, nil
}

// filterProjects keeps projects matching the requested keys, preserving
// listing order. Unknown keys are ignored.
func filterProjects(projects []platform.ProjectRef, keys []string) []platform.ProjectRef {
	if len(keys) == 0 {
		return projects
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	filtered := make([]platform.ProjectRef, 0, len(keys))
	for _, p := range projects {
		if wanted[p.Key] {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
