package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/config"
	"github.com/lsm/httpfilter/internal/pipeline"
)

// RunValidate checks every client definition in a directory, including a dry
// build of each filter so CEL expressions and filter configs are compiled.
func RunValidate(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Fprintln(stdout, "Usage: hfcall validate [dir]\n\nValidates all client definition YAML files in the given directory (default: $HTTPFILTER_CONFIG_DIR or ./clients).")
		return nil
	}

	dir := os.Getenv("HTTPFILTER_CONFIG_DIR")
	if len(args) > 0 && args[0] != "" {
		dir = args[0]
	}
	if dir == "" {
		dir = "./clients"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}

	var files, failed []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		files = append(files, path)
		if err := validateFile(path); err != nil {
			failed = append(failed, path)
			fmt.Fprintf(stderr, "  %s\n    error: %s\n\n", path, err)
		}
	}

	if len(files) == 0 {
		return fmt.Errorf("no client definitions found in %s", dir)
	}
	if len(failed) == 0 {
		fmt.Fprintf(stdout, "All %d client definition(s) are valid.\n", len(files))
		return nil
	}
	return fmt.Errorf("%d of %d client definition(s) invalid", len(failed), len(files))
}

func validateFile(path string) error {
	def, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	p := pipeline.New(httpclient.New(), pipeline.WithLogger(slog.New(slog.DiscardHandler)))
	defer p.Close()
	return p.Apply(def)
}
