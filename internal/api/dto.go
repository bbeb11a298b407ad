package api

import "github.com/starford/taskloader/internal/models"

// TaskListResponse wraps the tasks collection.
type TaskListResponse struct {
	Tasks []models.Task `json:"tasks"`
	Total int           `json:"total"`
}

// TaskHTMLResponse carries rendered task content.
type TaskHTMLResponse struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}
