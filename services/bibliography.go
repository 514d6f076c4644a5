package services

import (
	"fmt"
	"strings"

	"physbib/repositories"
)

// FormatReference renders a single entry into a compact reference string
func FormatReference(e repositories.FetchedEntry) string {
	authors := e.Author
	if authors == "" {
		authors = "Unknown Authors"
	}
	year := e.Year
	if year == "" {
		year = "n.d."
	}
	title := e.Title
	if title == "" {
		title = "Untitled"
	}
	var tail []string
	if e.Arxiv != "" {
		tail = append(tail, "arXiv:"+e.Arxiv)
	}
	if e.Doi != "" {
		tail = append(tail, "doi:"+e.Doi)
	}
	tailStr := strings.Join(tail, " ")
	if tailStr != "" {
		tailStr = " " + tailStr
	}
	if e.Published != "" {
		return fmt.Sprintf("%s (%s). %s. %s.%s", authors, year, title, e.Published, tailStr)
	}
	return fmt.Sprintf("%s (%s). %s.%s", authors, year, title, tailStr)
}
