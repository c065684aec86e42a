package models

import "time"

// BorrowRecord associates the caller with a borrowed book.
type BorrowRecord struct {
	ID         int64      `json:"id"`
	BookTitle  string     `json:"book_title"`
	UserID     int64      `json:"user_id,omitempty"`
	UserName   string     `json:"user_name"`
	BorrowDate Timestamp  `json:"borrow_date"`
	DueDate    Timestamp  `json:"due_date"`
	ReturnDate *Timestamp `json:"return_date"`
	// ServerOverdue is decoded for completeness only; IsOverdue recomputes it.
	ServerOverdue bool `json:"is_overdue,omitempty"`
}

// Returned reports whether the record carries a return date.
func (r BorrowRecord) Returned() bool {
	return r.ReturnDate != nil && !r.ReturnDate.IsZero()
}

// IsOverdue holds iff the due date is before now and the book has not been returned.
func (r BorrowRecord) IsOverdue(now time.Time) bool {
	if r.Returned() || r.DueDate.IsZero() {
		return false
	}
	return r.DueDate.Time.Before(now)
}

// AnyOverdue reports whether at least one record is overdue at now.
func AnyOverdue(records []BorrowRecord, now time.Time) bool {
	for _, r := range records {
		if r.IsOverdue(now) {
			return true
		}
	}
	return false
}
