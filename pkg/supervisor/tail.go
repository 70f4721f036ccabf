package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

// TailFile returns the last n lines of a log file. A missing file is
// not an error; the tunnel may simply not have produced output yet.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n*2 && n > 0 {
			lines = lines[len(lines)-n:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// FollowFile streams lines appended to path until ctx is done. The
// supervisor is the only writer of these files, so polling the size is
// enough; no inotify dependency needed for a dev tool.
func FollowFile(ctx context.Context, path string, out io.Writer) error {
	var offset int64
	if fi, err := os.Stat(path); err == nil {
		offset = fi.Size()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.Size() < offset {
			// Truncated or rotated; start over.
			offset = 0
		}
		if fi.Size() == offset {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			continue
		}
		n, _ := io.Copy(out, f)
		offset += n
		f.Close()
	}
}
