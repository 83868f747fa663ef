package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestListProjects_Paging(t *testing.T) {
	projects := newMemProjects()
	for i := 0; i < 5; i++ {
		projects.GetOrCreate(context.Background(), fmt.Sprintf("p%d", i))
	}
	svc := NewProjectService(projects, &memAssets{}, &memChunks{})

	var seen []string
	token := ""
	for pages := 0; pages < 10; pages++ {
		page, err := svc.ListProjects(context.Background(), 2, token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, p := range page.Items {
			seen = append(seen, p.ID)
		}
		token = page.NextPageToken
		if token == "" {
			break
		}
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 projects across pages, got %v", seen)
	}

	if _, err := svc.ListProjects(context.Background(), 2, "abc"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestListChunks(t *testing.T) {
	chunks := &memChunks{}
	chunks.addChunks("p1", "a", "b", "c")
	svc := NewProjectService(newMemProjects("p1"), &memAssets{}, chunks)

	page, err := svc.ListChunks(context.Background(), "p1", 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "2" {
		t.Errorf("expected 2 chunks and token 2, got %d and %q", len(page.Items), page.NextPageToken)
	}
	if page.Items[0].Order != 1 || page.Items[1].Order != 2 {
		t.Errorf("expected chunks in order, got %d, %d", page.Items[0].Order, page.Items[1].Order)
	}

	if _, err := svc.ListChunks(context.Background(), "nope", 2, ""); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}
