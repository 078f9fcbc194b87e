package banner

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFile overrides the embedded banner when present in the working directory.
const LocalFile = "banner.txt"

//go:embed banner.txt
var bannerFS embed.FS

// Show writes the banner to w. A banner.txt in cwd wins over the embedded one.
func Show(w io.Writer, cwd string) error {
	data, err := load(filepath.Join(cwd, LocalFile))
	if err != nil {
		if data, err = fs.ReadFile(bannerFS, "banner.txt"); err != nil {
			return fmt.Errorf("failed to read banner: %w", err)
		}
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func load(path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read banner file: %v", err)
	}
	return data, nil
}
