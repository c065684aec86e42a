package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("view").
	Funcs(template.FuncMap{"lines": Lines}).
	ParseFS(templateFS, "templates/*.html"))

type fragment[T any] struct {
	L Labels
	R RegionState[T]
}

// Page is everything the full page template needs.
type Page struct {
	Locale     string
	L          Labels
	UserInfo   fragment[UserInfo]
	Catalog    fragment[Catalog]
	Records    fragment[Records]
	Transcript TranscriptView
}

func NewPage(locale string, l Labels, user RegionState[UserInfo], catalog RegionState[Catalog], records RegionState[Records], transcript TranscriptView) Page {
	return Page{
		Locale:     locale,
		L:          l,
		UserInfo:   fragment[UserInfo]{L: l, R: user},
		Catalog:    fragment[Catalog]{L: l, R: catalog},
		Records:    fragment[Records]{L: l, R: records},
		Transcript: transcript,
	}
}

func RenderPage(w io.Writer, p Page) error {
	return templates.ExecuteTemplate(w, "page.html", p)
}

func UserInfoHTML(l Labels, s RegionState[UserInfo]) (string, error) {
	return execute(RegionUserInfo, fragment[UserInfo]{L: l, R: s})
}

func CatalogHTML(l Labels, s RegionState[Catalog]) (string, error) {
	return execute(RegionCatalog, fragment[Catalog]{L: l, R: s})
}

func RecordsHTML(l Labels, s RegionState[Records]) (string, error) {
	return execute(RegionRecords, fragment[Records]{L: l, R: s})
}

func TranscriptHTML(t TranscriptView) (string, error) {
	return execute("chat-window", t)
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
