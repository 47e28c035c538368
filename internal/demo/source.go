package demo

import (
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/airsync/pkg/models"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Issue is a record of the demo tracker
type Issue struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	AuthorID     string `json:"author_id"`
	CreatedDate  string `json:"created_date"`
	ModifiedDate string `json:"modified_date"`
}

// User is an account of the demo tracker
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Source is an in-memory tracker with a fixed number of issues and users. Every
// issue has one attachment served under AttachmentBaseURL.
type Source struct {
	Issues            int
	Users             int
	PageSize          int
	AttachmentBaseURL string
}

// DefaultSource is the tracker the registered demo connector syncs with
func DefaultSource() Source {
	return Source{
		Issues:            25,
		Users:             5,
		PageSize:          10,
		AttachmentBaseURL: "https://demo.invalid/attachments",
	}
}

// IssuesPage returns page p of the issues and whether more pages follow.
func (s Source) IssuesPage(p int) ([]Issue, bool) {
	start, end, more := s.window(p, s.Issues)
	issues := make([]Issue, 0, end-start)
	for i := start; i < end; i++ {
		created := epoch.Add(time.Duration(i) * time.Hour)
		issues = append(issues, Issue{
			ID:           fmt.Sprintf("ISS-%d", i+1),
			Title:        fmt.Sprintf("Demo issue %d", i+1),
			AuthorID:     s.userID(i),
			CreatedDate:  created.Format(time.RFC3339),
			ModifiedDate: created.Add(30 * time.Minute).Format(time.RFC3339),
		})
	}
	return issues, more
}

// UsersPage returns page p of the users and whether more pages follow.
func (s Source) UsersPage(p int) ([]User, bool) {
	start, end, more := s.window(p, s.Users)
	users := make([]User, 0, end-start)
	for i := start; i < end; i++ {
		users = append(users, User{
			ID:    fmt.Sprintf("USR-%d", i+1),
			Name:  fmt.Sprintf("Demo user %d", i+1),
			Email: fmt.Sprintf("user%d@demo.invalid", i+1),
		})
	}
	return users, more
}

// Attachments describes the attachment of every issue in issues.
func (s Source) Attachments(issues []Issue) []models.NormalizedAttachment {
	out := make([]models.NormalizedAttachment, 0, len(issues))
	for _, issue := range issues {
		out = append(out, models.NormalizedAttachment{
			ID:       "ATT-" + issue.ID,
			URL:      fmt.Sprintf("%s/%s.txt", s.AttachmentBaseURL, issue.ID),
			FileName: issue.ID + ".txt",
			ParentID: issue.ID,
			AuthorID: issue.AuthorID,
		})
	}
	return out
}

func (s Source) userID(i int) string {
	if s.Users == 0 {
		return ""
	}
	return fmt.Sprintf("USR-%d", i%s.Users+1)
}

func (s Source) window(page, total int) (start, end int, more bool) {
	size := s.PageSize
	if size <= 0 {
		size = total
	}
	start = page * size
	if start > total {
		start = total
	}
	end = start + size
	if end > total {
		end = total
	}
	return start, end, end < total
}

// Sink records what loading wrote into the demo tracker.
type Sink struct {
	mu      sync.Mutex
	next    int
	written map[string]string
}

// NewSink returns an empty sink
func NewSink() *Sink {
	return &Sink{written: make(map[string]string)}
}

// Write stores an item and returns its tracker id.
func (s *Sink) Write(itemType, platformID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.written[platformID]; ok {
		return id
	}
	s.next++
	id := fmt.Sprintf("%s-%d", itemType, s.next)
	s.written[platformID] = id
	return id
}

// Len returns the number of items written
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}
