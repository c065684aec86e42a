package view

import (
	"time"

	"librarydesk/internal/models"
)

// UserInfo is the state of the user info region.
type UserInfo struct {
	Name string `json:"name"`
	// Overdue is the localized Yes/No text, or the failure label.
	Overdue       string `json:"overdue"`
	OverdueMarked bool   `json:"overdue_marked"`
	Failed        bool   `json:"failed"`
}

type CatalogEntry struct {
	BookID       int64  `json:"book_id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Availability string `json:"availability"`
	CanBorrow    bool   `json:"can_borrow"`
}

// Catalog is the state of the book catalog region. Error replaces the list when set.
type Catalog struct {
	Entries []CatalogEntry `json:"entries"`
	Error   string         `json:"error,omitempty"`
}

type RecordEntry struct {
	RecordID   int64  `json:"record_id"`
	BookTitle  string `json:"book_title"`
	BorrowDate string `json:"borrow_date"`
	DueDate    string `json:"due_date"`
	DueOverdue bool   `json:"due_overdue"`
	// ReturnDate holds the not-returned label when the record is open.
	ReturnDate string `json:"return_date"`
	CanReturn  bool   `json:"can_return"`
}

// Records is the state of the borrow records region. Empty is the single
// informational line shown when the caller has no records.
type Records struct {
	Entries []RecordEntry `json:"entries"`
	Empty   string        `json:"empty,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RenderUserInfo derives the user info region from the borrow records fetch.
func RenderUserInfo(l Labels, records []models.BorrowRecord, err error, now time.Time) UserInfo {
	if err != nil {
		return UserInfo{Name: l.LoadFailed, Overdue: l.LoadFailed, Failed: true}
	}
	info := UserInfo{Name: l.PlaceholderName, Overdue: l.No}
	if len(records) > 0 && records[0].UserName != "" {
		info.Name = records[0].UserName
	}
	if models.AnyOverdue(records, now) {
		info.Overdue = l.Yes
		info.OverdueMarked = true
	}
	return info
}

// RenderCatalog rebuilds the catalog from the books fetch.
func RenderCatalog(l Labels, books []models.Book, err error) Catalog {
	if err != nil {
		return Catalog{Entries: []CatalogEntry{}, Error: l.BooksError}
	}
	entries := make([]CatalogEntry, 0, len(books))
	for _, b := range books {
		entry := CatalogEntry{
			BookID:       b.ID,
			Title:        b.Title,
			Author:       b.Author,
			Availability: l.Unavailable,
		}
		if b.IsAvailable {
			entry.Availability = l.Available
			entry.CanBorrow = true
		}
		entries = append(entries, entry)
	}
	return Catalog{Entries: entries}
}

// RenderRecords rebuilds the borrow records region.
func RenderRecords(l Labels, records []models.BorrowRecord, err error, now time.Time) Records {
	if err != nil {
		return Records{Entries: []RecordEntry{}, Error: l.RecordsError}
	}
	if len(records) == 0 {
		return Records{Entries: []RecordEntry{}, Empty: l.NoRecords}
	}
	entries := make([]RecordEntry, 0, len(records))
	for _, r := range records {
		entry := RecordEntry{
			RecordID:   r.ID,
			BookTitle:  r.BookTitle,
			BorrowDate: r.BorrowDate.String(),
			DueDate:    r.DueDate.String(),
			DueOverdue: r.IsOverdue(now),
			ReturnDate: l.NotReturned,
			CanReturn:  !r.Returned(),
		}
		if r.Returned() {
			entry.ReturnDate = r.ReturnDate.String()
		}
		entries = append(entries, entry)
	}
	return Records{Entries: entries}
}
