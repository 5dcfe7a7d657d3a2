package receipt

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"time"
)

// Archive writes a zip of every stored file of the batch, grouped into
// renamed/ and visualized/, plus the CSV report.
func (s *Service) Archive(w io.Writer, clientID, batchID string) error {
	batch, err := s.GetBatch(clientID, batchID)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, o := range batch.Outcomes {
		if o.Failed() {
			continue
		}
		for _, f := range []struct {
			dir, name, stored string
		}{
			{string(FileRenamed), o.RenamedFile, o.RenamedPath},
			{string(FileVisualized), o.VisualizedFile, o.VisualizedPath},
		} {
			data, err := s.storage.Get(f.stored)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.stored, err)
			}
			if err := addToZip(zw, path.Join(f.dir, f.name), batch.CreatedAt, data); err != nil {
				return err
			}
		}
	}

	var report bytes.Buffer
	if err := WriteCSV(&report, batch); err != nil {
		return err
	}
	if err := addToZip(zw, "report.csv", batch.CreatedAt, report.Bytes()); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

func addToZip(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	// PNGs are already compressed
	method := zip.Store
	if path.Ext(name) != ".png" {
		method = zip.Deflate
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing %s to archive: %w", name, err)
	}
	return nil
}
