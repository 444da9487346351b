package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// JiraClient talks to a Jira Cloud instance over REST API v3 using Basic
// authentication (email + API token).
type JiraClient struct {
	rest *restClient
}

// NewJiraClient creates a Jira client against serverURL.
func NewJiraClient(serverURL string, creds BasicAuth, cfg Config, log *logger.Logger) *JiraClient {
	return &JiraClient{
		rest: newRESTClient(serverURL, "/rest/api/3", creds, cfg, log.WithPlatform(string(connection.PlatformJira))),
	}
}

func (c *JiraClient) Platform() connection.Platform {
	return connection.PlatformJira
}

func (c *JiraClient) TestConnection(ctx context.Context) (bool, error) {
	if _, err := c.CurrentUser(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type jiraUser struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

func (c *JiraClient) CurrentUser(ctx context.Context) (*UserRef, error) {
	var user jiraUser
	if err := c.rest.getJSON(ctx, "/myself", nil, &user); err != nil {
		return nil, err
	}
	return &UserRef{
		AccountID:   user.AccountID,
		DisplayName: user.DisplayName,
		Email:       user.EmailAddress,
	}, nil
}

// jiraProjectPage is Jira's paginated envelope: results live under "values".
type jiraProjectPage struct {
	Total  int `json:"total"`
	Values []struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"values"`
}

func (c *JiraClient) ListProjects(ctx context.Context, page Page) ([]ProjectRef, error) {
	query := url.Values{}
	if page.Size > 0 {
		query.Set("maxResults", strconv.Itoa(page.Size))
		query.Set("startAt", strconv.Itoa(page.Index*page.Size))
	}

	var envelope jiraProjectPage
	if err := c.rest.getJSON(ctx, "/project/search", query, &envelope); err != nil {
		return nil, err
	}

	projects := make([]ProjectRef, 0, len(envelope.Values))
	for _, p := range envelope.Values {
		projects = append(projects, ProjectRef{ID: p.ID, Key: p.Key, Name: p.Name})
	}
	return projects, nil
}

type jiraSearchResult struct {
	Total  int `json:"total"`
	Issues []struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
			Assignee *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
			Updated string `json:"updated"`
		} `json:"fields"`
	} `json:"issues"`
}

func (c *JiraClient) FetchIssues(ctx context.Context, projectKey string, maxResults int) (*IssueSearch, error) {
	query := url.Values{}
	query.Set("jql", fmt.Sprintf("project = %q ORDER BY updated DESC", projectKey))
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("fields", "summary,status,assignee,updated")

	var result jiraSearchResult
	if err := c.rest.getJSON(ctx, "/search", query, &result); err != nil {
		return nil, err
	}

	search := &IssueSearch{Total: result.Total, Issues: make([]Issue, 0, len(result.Issues))}
	for _, raw := range result.Issues {
		issue := Issue{
			ID:      raw.ID,
			Key:     raw.Key,
			Summary: raw.Fields.Summary,
			Status:  raw.Fields.Status.Name,
		}
		if raw.Fields.Assignee != nil {
			issue.Assignee = raw.Fields.Assignee.DisplayName
		}
		if raw.Fields.Updated != "" {
			// Jira uses a non-RFC3339 offset format.
			if ts, err := time.Parse("2006-01-02T15:04:05.000-0700", raw.Fields.Updated); err == nil {
				issue.Updated = ts
			}
		}
		search.Issues = append(search.Issues, issue)
	}
	return search, nil
}
