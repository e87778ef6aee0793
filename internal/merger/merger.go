// Package merger assembles the collected per-asset artifacts and the version
// manifest into the single canonical release tarball. Merge is a pure
// function of its inputs: the same artifact set and manifest always produce
// the same contained-asset set, with assets laid out in sorted-name order
// and header timestamps pinned so record order never leaks into the archive.
package merger

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/kata-ci/staticbuild/internal/collector"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/logfields"
)

// ManifestFileName is the top-level metadata file embedded in the merged
// tarball.
const ManifestFileName = "VERSIONS.yaml"

// pinnedModTime is the timestamp written for every generated header, keeping
// the archive layout independent of wall-clock time. Artifact payload
// headers keep their own mtimes; only entry ordering and generated metadata
// are pinned.
var pinnedModTime = time.Unix(0, 0)

// MergedTarball is the pipeline's final durable output.
type MergedTarball struct {
	Path            string
	ContainedAssets []string
}

// Merge validates the retained artifact set against the expected catalog set
// and assembles the canonical tarball at outPath. The archive is written to
// a temporary path and renamed into place, so a partially written tarball
// never appears at the canonical path.
func Merge(records []collector.ArtifactRecord, manifest VersionManifest, expected []string, outPath string) (*MergedTarball, error) {
	retained := make([]collector.ArtifactRecord, 0, len(records))
	for _, r := range records {
		if r.Retained {
			retained = append(retained, r)
		}
	}
	sort.Slice(retained, func(i, j int) bool { return retained[i].AssetName < retained[j].AssetName })

	if err := verifyExactSet(retained, expected); err != nil {
		return nil, err
	}

	if err := writeAtomically(outPath, func(w io.Writer) error {
		return writeArchive(w, retained, manifest)
	}); err != nil {
		return nil, err
	}

	contained := make([]string, len(retained))
	for i, r := range retained {
		contained[i] = r.AssetName
	}
	slog.Info("Merged release tarball written", logfields.Path(outPath), logfields.Count(len(contained)))
	return &MergedTarball{Path: outPath, ContainedAssets: contained}, nil
}

// verifyExactSet enforces that the retained records are exactly the expected
// asset set: a missing asset means a build silently dropped out, an
// unexpected one means a stale or mismatched collection.
func verifyExactSet(retained []collector.ArtifactRecord, expected []string) error {
	want := make(map[string]bool, len(expected))
	for _, name := range expected {
		want[name] = true
	}
	got := make(map[string]bool, len(retained))
	for _, r := range retained {
		got[r.AssetName] = true
	}

	var missing, unexpected []string
	for _, name := range expected {
		if !got[name] {
			missing = append(missing, name)
		}
	}
	for _, r := range retained {
		if !want[r.AssetName] {
			unexpected = append(unexpected, r.AssetName)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return pkgerrors.ManifestMismatch(missing, unexpected)
	}
	return nil
}

// writeAtomically writes through fill into a temp file next to outPath and
// renames it into place on success.
func writeAtomically(outPath string, fill func(io.Writer) error) error {
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return pkgerrors.InternalError("create output dir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return pkgerrors.InternalError("create temp output", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpPath)
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.InternalError("close temp output", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return pkgerrors.InternalError("publish output", err)
	}
	return nil
}

// writeArchive streams the manifest metadata and every retained artifact's
// payload into a tar.xz archive.
func writeArchive(w io.Writer, retained []collector.ArtifactRecord, manifest VersionManifest) error {
	xzw, err := xz.NewWriter(w)
	if err != nil {
		return pkgerrors.InternalError("init xz writer", err)
	}
	tw := tar.NewWriter(xzw)

	meta := manifest.Serialize()
	if err := tw.WriteHeader(&tar.Header{
		Name:    ManifestFileName,
		Mode:    0o644,
		Size:    int64(len(meta)),
		ModTime: pinnedModTime,
	}); err != nil {
		return pkgerrors.InternalError("write manifest header", err)
	}
	if _, err := tw.Write(meta); err != nil {
		return pkgerrors.InternalError("write manifest payload", err)
	}

	for _, r := range retained {
		if err := appendArtifact(tw, r); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return pkgerrors.InternalError("finalize tar stream", err)
	}
	if err := xzw.Close(); err != nil {
		return pkgerrors.InternalError("finalize xz stream", err)
	}
	return nil
}

// appendArtifact unpacks one artifact tarball and re-roots its entries under
// the asset's subpath in the merged archive.
func appendArtifact(tw *tar.Writer, r collector.ArtifactRecord) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return pkgerrors.ArtifactMissing(r.AssetName)
	}
	defer f.Close()

	payload, err := decompress(f, r.Path)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CategoryArtifact, pkgerrors.SeverityFatal, "open artifact payload").
			WithContext("asset", r.AssetName)
	}

	tr := tar.NewReader(payload)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CategoryArtifact, pkgerrors.SeverityFatal, "read artifact entry").
				WithContext("asset", r.AssetName)
		}
		cleaned := strings.TrimPrefix(path.Clean(hdr.Name), "/")
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return pkgerrors.New(pkgerrors.CategoryArtifact, pkgerrors.SeverityFatal, "artifact entry escapes asset root").
				WithContext("asset", r.AssetName).
				WithContext("entry", hdr.Name)
		}
		hdr.Name = path.Join(r.AssetName, cleaned)
		if err := tw.WriteHeader(hdr); err != nil {
			return pkgerrors.InternalError("write merged entry header", err)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return pkgerrors.InternalError("write merged entry payload", err)
		}
	}
}

// decompress wraps the artifact stream with the decoder its file name calls
// for. Build steps produce .tar.xz, .tar.gz or plain .tar.
func decompress(r io.Reader, name string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".tar.xz"):
		return xz.NewReader(r)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	default:
		return nil, fmt.Errorf("unrecognized artifact format: %s", filepath.Base(name))
	}
}
