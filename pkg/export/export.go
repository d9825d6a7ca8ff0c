// Package export writes rankings and valid posts as spreadsheet-friendly CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

// bom makes Excel open the file as UTF-8.
const bom = "\ufeff"

const timeLayout = "2006-01-02 15:04:05"

// WriteRanking writes rank,symptom,count,trend rows in ranking order.
func WriteRanking(w io.Writer, rows []trend.Row) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "symptom", "count", "trend"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(r.Rank), r.Symptom, strconv.Itoa(r.Count), string(r.Trend)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePosts writes valid posts sorted by likes then reshares, both
// descending. Timestamps are rendered in loc; line breaks inside text become
// spaces so each post stays on one row.
func WritePosts(w io.Writer, posts []pipeline.ValidPost, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	sorted := append([]pipeline.ValidPost(nil), posts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Likes != sorted[j].Likes {
			return sorted[i].Likes > sorted[j].Likes
		}
		return sorted[i].Reshares > sorted[j].Reshares
	})

	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"created_at", "symptom", "text", "location", "reshares", "likes"}); err != nil {
		return err
	}
	for _, p := range sorted {
		err := cw.Write([]string{
			p.CreatedAt.In(loc).Format(timeLayout),
			p.Symptom,
			flatten(p.Text),
			flatten(p.AuthorLocation),
			strconv.Itoa(p.Reshares),
			strconv.Itoa(p.Likes),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	return lineBreaks.Replace(s)
}

// Files writes <prefix>_ranking.csv and <prefix>_posts.csv into dir and
// returns their paths. prefix defaults to the run's taxonomy and start time.
func Files(dir string, res *pipeline.RunResult, loc *time.Location) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	prefix := fmt.Sprintf("%s_%s", res.Taxonomy, res.StartedAt.In(loc).Format("20060102_1504"))

	ranking := filepath.Join(dir, prefix+"_ranking.csv")
	if err := writeFile(ranking, func(w io.Writer) error { return WriteRanking(w, res.Ranking) }); err != nil {
		return nil, err
	}
	posts := filepath.Join(dir, prefix+"_posts.csv")
	if err := writeFile(posts, func(w io.Writer) error { return WritePosts(w, res.ValidPosts, loc) }); err != nil {
		return nil, err
	}
	return []string{ranking, posts}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
