package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"gallery/internal/sqlinline"
)

// fakeSQL satisfies infra.SQLExecutor with canned per-query results.
type fakeSQL struct {
	rows map[string]*sliceRows
}

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return SimpleRow{}
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if rows, ok := f.rows[query]; ok {
		return rows, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", firstLine(query))
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i > 0 {
		return q[:i]
	}
	return q
}

// sliceRows replays canned row values through the pgx.Rows interface.
type sliceRows struct {
	TestRowsBase
	data [][]any
	idx  int
	err  error
}

func (r *sliceRows) Close()     {}
func (r *sliceRows) Err() error { return r.err }

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *sliceRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan arity mismatch: %d dest, %d values", len(dest), len(row))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("unsupported scan dest %T", dest[i])
		}
	}
	return nil
}

func newGalleryApp(rows map[string]*sliceRows) *App {
	return &App{
		SQL:    &fakeSQL{rows: rows},
		Logger: zerolog.Nop(),
	}
}

func TestGalleryStyles(t *testing.T) {
	app := newGalleryApp(map[string]*sliceRows{
		sqlinline.QListStyles: {data: [][]any{{"oil painting"}, {"watercolor"}}},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/gallery/styles", nil)
	rec := httptest.NewRecorder()
	app.GalleryStyles(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Styles []string `json:"styles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Styles) != 2 || resp.Styles[0] != "oil painting" {
		t.Fatalf("styles = %v", resp.Styles)
	}
}

func TestGallerySearch(t *testing.T) {
	created := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	app := newGalleryApp(map[string]*sliceRows{
		sqlinline.QSearchRenders: {data: [][]any{
			{"id-1", "watercolor", "replicate:sdxl", "renders/a.png", "renders/a_thumb.png", created, 7},
		}},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/gallery/search?q=water&page=2&page_size=3", nil)
	rec := httptest.NewRecorder()
	app.GallerySearch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Items []struct {
			ID          string `json:"id"`
			StylePhrase string `json:"style_phrase"`
		} `json:"items"`
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 7 || resp.Page != 2 || resp.PageSize != 3 {
		t.Fatalf("pagination = %+v", resp)
	}
	if len(resp.Items) != 1 || resp.Items[0].StylePhrase != "watercolor" {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestGalleryDefaultEmpty(t *testing.T) {
	app := newGalleryApp(map[string]*sliceRows{
		sqlinline.QListDefaultRenders: {data: nil},
	})

	rec := httptest.NewRecorder()
	app.GalleryDefault(rec, httptest.NewRequest(http.MethodGet, "/v1/gallery", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("empty gallery must encode an empty array, got %s", rec.Body.String())
	}
}
