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

// TrofosClient talks to a Trofos server using an x-api-key header. Trofos
// returns flat JSON arrays rather than a paginated envelope, and addresses
// projects by numeric ID.
type TrofosClient struct {
	rest *restClient
}

// NewTrofosClient creates a Trofos client against serverURL.
func NewTrofosClient(serverURL string, creds APIKey, cfg Config, log *logger.Logger) *TrofosClient {
	return &TrofosClient{
		rest: newRESTClient(serverURL, "/v1/api", creds, cfg, log.WithPlatform(string(connection.PlatformTrofos))),
	}
}

func (c *TrofosClient) Platform() connection.Platform {
	return connection.PlatformTrofos
}

func (c *TrofosClient) TestConnection(ctx context.Context) (bool, error) {
	if _, err := c.CurrentUser(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type trofosUser struct {
	ID          int    `json:"id"`
	UserEmail   string `json:"userEmail"`
	DisplayName string `json:"userDisplayName"`
}

func (c *TrofosClient) CurrentUser(ctx context.Context) (*UserRef, error) {
	var user trofosUser
	if err := c.rest.getJSON(ctx, "/account", nil, &user); err != nil {
		return nil, err
	}
	return &UserRef{
		AccountID:   strconv.Itoa(user.ID),
		DisplayName: user.DisplayName,
		Email:       user.UserEmail,
	}, nil
}

type trofosProject struct {
	ID    int    `json:"id"`
	PName string `json:"pname"`
	PKey  string `json:"pkey"`
}

func (c *TrofosClient) ListProjects(ctx context.Context, page Page) ([]ProjectRef, error) {
	query := url.Values{}
	if page.Size > 0 {
		query.Set("pageSize", strconv.Itoa(page.Size))
		query.Set("pageNum", strconv.Itoa(page.Index))
	}

	var raw []trofosProject
	if err := c.rest.getJSON(ctx, "/project", query, &raw); err != nil {
		return nil, err
	}

	projects := make([]ProjectRef, 0, len(raw))
	for _, p := range raw {
		ref := ProjectRef{ID: strconv.Itoa(p.ID), Key: p.PKey, Name: p.PName}
		if ref.Key == "" {
			ref.Key = ref.ID
		}
		projects = append(projects, ref)
	}
	return projects, nil
}

type trofosBacklogItem struct {
	ID       int    `json:"backlogId"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Assignee string `json:"assigneeName"`
	Updated  string `json:"updatedAt"`
}

func (c *TrofosClient) FetchIssues(ctx context.Context, projectKey string, maxResults int) (*IssueSearch, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(maxResults))

	var raw []trofosBacklogItem
	path := fmt.Sprintf("/project/%s/backlog", url.PathEscape(projectKey))
	if err := c.rest.getJSON(ctx, path, query, &raw); err != nil {
		return nil, err
	}

	search := &IssueSearch{Total: len(raw), Issues: make([]Issue, 0, len(raw))}
	for _, item := range raw {
		issue := Issue{
			ID:       strconv.Itoa(item.ID),
			Key:      fmt.Sprintf("%s-%d", projectKey, item.ID),
			Summary:  item.Summary,
			Status:   item.Status,
			Assignee: item.Assignee,
		}
		if ts, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			issue.Updated = ts
		}
		search.Issues = append(search.Issues, issue)
	}
	return search, nil
}
