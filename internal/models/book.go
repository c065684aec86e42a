package models

// Book is a catalog entry as served by GET /books/.
type Book struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	IsAvailable bool   `json:"is_available"`
}
