// Package models defines the domain types for taskloader.
package models

// Task is one record of the tasks collection, built from a single markdown file.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Frontmatter any    `json:"frontmatter"`
	Content     string `json:"content"`
}
