package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Historic downloads the bulk yearly archives. Each year of each
// mode is published as one zip of CSV files, addressed by an opaque
// dataset id.
type Historic struct {
	// Archive URL; {id} is replaced with the dataset id.
	URLTemplate string

	// Dataset ids keyed by year.
	RapidIDs map[string]string
	BusIDs   map[string]string

	// Ferry data is small enough to live in a single dataset.
	FerryURL string

	// Downloads are unpacked under CacheRoot/input.
	CacheRoot string

	Client *http.Client
}

func (h *Historic) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *Historic) datasetURL(ids map[string]string, year string) (string, error) {
	id, found := ids[year]
	if !found {
		supported := make([]string, 0, len(ids))
		for y := range ids {
			supported = append(supported, y)
		}
		sort.Strings(supported)
		return "", fmt.Errorf("no dataset for year %s, supported years are %s",
			year, strings.Join(supported, " "))
	}
	return strings.ReplaceAll(h.URLTemplate, "{id}", id), nil
}

// DownloadRapidYear fetches and unpacks one year of the rapid
// transit archive, returning the paths of the extracted CSV files.
// An already-populated extraction directory is reused.
func (h *Historic) DownloadRapidYear(ctx context.Context, year string) ([]string, error) {
	url, err := h.datasetURL(h.RapidIDs, year)
	if err != nil {
		return nil, err
	}
	return h.download(ctx, url, filepath.Join(h.CacheRoot, "input", year))
}

// DownloadBusYear fetches and unpacks one year of the bus archive.
func (h *Historic) DownloadBusYear(ctx context.Context, year string) ([]string, error) {
	url, err := h.datasetURL(h.BusIDs, year)
	if err != nil {
		return nil, err
	}
	return h.download(ctx, url, filepath.Join(h.CacheRoot, "input", "bus", year))
}

// DownloadFerry fetches and unpacks the ferry archive.
func (h *Historic) DownloadFerry(ctx context.Context) ([]string, error) {
	if h.FerryURL == "" {
		return nil, fmt.Errorf("no ferry dataset configured")
	}
	return h.download(ctx, h.FerryURL, filepath.Join(h.CacheRoot, "input", "ferry"))
}

func (h *Historic) download(ctx context.Context, url, dir string) ([]string, error) {
	if files, err := CSVFiles(dir); err == nil && len(files) > 0 {
		return files, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	if err := unzip(body, dir); err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", url, err)
	}
	return CSVFiles(dir)
}

func unzip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}

	for _, f := range zr.File {
		// Reject entries escaping the extraction directory.
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}

		r, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return fmt.Errorf("reading zip entry %s: %w", f.Name, err)
		}
		if err := os.WriteFile(dest, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
	}
	return nil
}

// CSVFiles lists the CSV files under dir, recursively, sorted.
func CSVFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
