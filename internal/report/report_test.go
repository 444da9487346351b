package report

import (
	"context"
	"sync"
	"testing"

	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/platform"
)

type fakeClient struct {
	mu       sync.Mutex
	projects []platform.ProjectRef
	failKey  string
	fetches  []string
}

func (f *fakeClient) Platform() connection.Platform { return connection.PlatformTrofos }

func (f *fakeClient) TestConnection(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeClient) CurrentUser(ctx context.Context) (*platform.UserRef, error) {
	return &platform.UserRef{AccountID: "u1"}, nil
}

func (f *fakeClient) ListProjects(ctx context.Context, page platform.Page) ([]platform.ProjectRef, error) {
	return f.projects, nil
}

func (f *fakeClient) FetchIssues(ctx context.Context, projectKey string, maxResults int) (*platform.IssueSearch, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, projectKey)
	f.mu.Unlock()
	if projectKey == f.failKey {
		return nil, errors.UpstreamError(500, "Internal Server Error")
	}
	return &platform.IssueSearch{
		Total:  2,
		Issues: []platform.Issue{{Key: projectKey + "-1"}, {Key: projectKey + "-2"}},
	}, nil
}

func TestService_Assemble_AllProjects(t *testing.T) {
	client := &fakeClient{
		projects: []platform.ProjectRef{
			{ID: "1", Key: "A", Name: "Alpha"},
			{ID: "2", Key: "B", Name: "Beta"},
			{ID: "3", Key: "C", Name: "Gamma"},
		},
	}

	svc := NewService(ServiceConfig{}, logger.Default())
	data, err := svc.Assemble(context.Background(), "conn_1", client, nil)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if data.ConnectionID != "conn_1" || data.Platform != connection.PlatformTrofos {
		t.Errorf("data = %+v", data)
	}
	if len(data.Projects) != 3 {
		t.Fatalf("got %d projects, want 3", len(data.Projects))
	}
	// Results must land in listing order even with concurrent fetches.
	for i, want := range []string{"A", "B", "C"} {
		if data.Projects[i].Project.Key != want {
			t.Errorf("project[%d] = %q, want %q", i, data.Projects[i].Project.Key, want)
		}
		if data.Projects[i].IssueTotal != 2 {
			t.Errorf("project[%d] total = %d", i, data.Projects[i].IssueTotal)
		}
	}
	if data.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestService_Assemble_FiltersByKey(t *testing.T) {
	client := &fakeClient{
		projects: []platform.ProjectRef{
			{Key: "A"}, {Key: "B"}, {Key: "C"},
		},
	}

	svc := NewService(ServiceConfig{}, logger.Default())
	data, err := svc.Assemble(context.Background(), "conn_1", client, []string{"C", "A"})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(data.Projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(data.Projects))
	}
	if data.Projects[0].Project.Key != "A" || data.Projects[1].Project.Key != "C" {
		t.Errorf("filtered order = %q, %q", data.Projects[0].Project.Key, data.Projects[1].Project.Key)
	}
}

func TestService_Assemble_FetchFailureAborts(t *testing.T) {
	client := &fakeClient{
		projects: []platform.ProjectRef{{Key: "A"}, {Key: "B"}},
		failKey:  "B",
	}

	svc := NewService(ServiceConfig{}, logger.Default())
	data, err := svc.Assemble(context.Background(), "conn_1", client, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if data != nil {
		t.Error("partial report returned on failure")
	}
}

func TestService_Assemble_NoProjects(t *testing.T) {
	svc := NewService(ServiceConfig{}, logger.Default())
	data, err := svc.Assemble(context.Background(), "conn_1", &fakeClient{}, nil)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(data.Projects) != 0 {
		t.Errorf("got %d projects, want 0", len(data.Projects))
	}
}
