package dispatcher

import (
	"strings"

	"github.com/postloom/postloom/internal/models"
)

// RenderText concatenates body, hashtags and call-to-action per the fixed
// template every platform receives. Empty sections are skipped.
func RenderText(job *models.Job) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{job.Body, job.Hashtags, job.CallToAction} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, "\n\n")
}
