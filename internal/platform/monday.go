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

// MondayClient talks to a Monday-style board service using an x-api-key
// header. Responses are wrapped in a "data" envelope; boards map to
// projects and items map to issues.
type MondayClient struct {
	rest *restClient
}

// NewMondayClient creates a Monday client against serverURL.
func NewMondayClient(serverURL string, creds APIKey, cfg Config, log *logger.Logger) *MondayClient {
	return &MondayClient{
		rest: newRESTClient(serverURL, "/v2", creds, cfg, log.WithPlatform(string(connection.PlatformMonday))),
	}
}

func (c *MondayClient) Platform() connection.Platform {
	return connection.PlatformMonday
}

func (c *MondayClient) TestConnection(ctx context.Context) (bool, error) {
	if _, err := c.CurrentUser(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type mondayMeEnvelope struct {
	Data struct {
		Me struct {
			ID    int    `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"me"`
	} `json:"data"`
}

func (c *MondayClient) CurrentUser(ctx context.Context) (*UserRef, error) {
	var envelope mondayMeEnvelope
	if err := c.rest.getJSON(ctx, "/me", nil, &envelope); err != nil {
		return nil, err
	}
	me := envelope.Data.Me
	return &UserRef{
		AccountID:   strconv.Itoa(me.ID),
		DisplayName: me.Name,
		Email:       me.Email,
	}, nil
}

type mondayBoardsEnvelope struct {
	Data struct {
		Boards []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"boards"`
	} `json:"data"`
}

func (c *MondayClient) ListProjects(ctx context.Context, page Page) ([]ProjectRef, error) {
	query := url.Values{}
	if page.Size > 0 {
		query.Set("limit", strconv.Itoa(page.Size))
		query.Set("page", strconv.Itoa(page.Index+1))
	}

	var envelope mondayBoardsEnvelope
	if err := c.rest.getJSON(ctx, "/boards", query, &envelope); err != nil {
		return nil, err
	}

	projects := make([]ProjectRef, 0, len(envelope.Data.Boards))
	for _, b := range envelope.Data.Boards {
		projects = append(projects, ProjectRef{ID: b.ID, Key: b.ID, Name: b.Name})
	}
	return projects, nil
}

type mondayItemsEnvelope struct {
	Data struct {
		Items []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Status   string `json:"status"`
			Assignee string `json:"assignee"`
			Updated  string `json:"updated_at"`
		} `json:"items"`
		Total int `json:"total"`
	} `json:"data"`
}

func (c *MondayClient) FetchIssues(ctx context.Context, projectKey string, maxResults int) (*IssueSearch, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(maxResults))

	path := fmt.Sprintf("/boards/%s/items", url.PathEscape(projectKey))
	var envelope mondayItemsEnvelope
	if err := c.rest.getJSON(ctx, path, query, &envelope); err != nil {
		return nil, err
	}

	total := envelope.Data.Total
	if total == 0 {
		total = len(envelope.Data.Items)
	}
	search := &IssueSearch{Total: total, Issues: make([]Issue, 0, len(envelope.Data.Items))}
	for _, item := range envelope.Data.Items {
		issue := Issue{
			ID:       item.ID,
			Key:      item.ID,
			Summary:  item.Name,
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
