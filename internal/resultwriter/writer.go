// Package resultwriter implements the per-frame result layout (§6.7):
// atomic write-to-temp-then-rename JSON files under a per-frame directory,
// so readers observe either an absent file or a complete one, never a
// partial write. Grounded on the teacher's Recorder, which similarly
// disables itself rather than half-writing on error instead of panicking.
package resultwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FrameDetailsDir builds the "<kind>_<seq>_details/" path §6.7 names, under
// baseDir.
func FrameDetailsDir(baseDir string, kind string, seq uint64) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s_%d_details", kind, seq))
}

// WriteJSON marshals v and writes it to dir/name atomically: it writes to
// a hidden temp file in the same directory, then renames it into place, so
// a reader never observes a partially written file. dir is created if
// missing.
func WriteJSON(dir, name string, v any) error {
	return WriteJSONMirrored(context.Background(), dir, name, v, nil)
}

// WriteJSONMirrored is WriteJSON plus an optional BlobMirror upload of the
// same bytes once the local write has committed. mirror may be nil (no
// mirroring, equivalent to WriteJSON).
func WriteJSONMirrored(ctx context.Context, dir, name string, v any, mirror *BlobMirror) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resultwriter: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("resultwriter: marshal %s: %w", name, err)
	}

	final := filepath.Join(dir, name)
	if err := atomicWrite(dir, final, data); err != nil {
		return fmt.Errorf("resultwriter: %s: %w", name, err)
	}
	mirror.Mirror(ctx, final, data)
	return nil
}

// WriteJPEG atomically writes raw JPEG bytes to dir/name, using the same
// temp-then-rename discipline as WriteJSON.
func WriteJPEG(dir, name string, data []byte) error {
	return WriteJPEGMirrored(context.Background(), dir, name, data, nil)
}

// WriteJPEGMirrored is WriteJPEG plus an optional BlobMirror upload.
func WriteJPEGMirrored(ctx context.Context, dir, name string, data []byte, mirror *BlobMirror) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resultwriter: mkdir %s: %w", dir, err)
	}
	final := filepath.Join(dir, name)
	if err := atomicWrite(dir, final, data); err != nil {
		return fmt.Errorf("resultwriter: %s: %w", name, err)
	}
	mirror.Mirror(ctx, final, data)
	return nil
}

func atomicWrite(dir, final string, data []byte) error {
	tmp := filepath.Join(dir, "."+filepath.Base(final)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
